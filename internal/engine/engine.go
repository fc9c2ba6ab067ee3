// Package engine is the bounded-parallel competition orchestrator shared by
// the run and review commands. It drives a caller-supplied Adapter through a
// fixed prepare/execute/finalize protocol: preparation is sequential and
// all-or-nothing, execution is bounded-parallel with per-candidate failure
// isolation, and finalize always runs exactly once.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Adapter supplies the per-candidate behavior the engine drives. C is the
// candidate input type, P is the prepared (workspace-scaffolded) form, and R
// is the outcome type recorded for each candidate.
type Adapter[C any, P any, R any] interface {
	// PrepareCandidate scaffolds everything candidate needs before
	// execution can start. Called sequentially, in input order.
	PrepareCandidate(ctx context.Context, candidate C) (P, error)

	// ExecuteCandidate runs prepared to completion. Called from a bounded
	// pool of goroutines; must not mutate state shared with other
	// in-flight candidates.
	ExecuteCandidate(ctx context.Context, prepared P) (R, error)

	// OnCandidateCompleted is called once per candidate that executed
	// without error, for side effects (e.g. persisting a success record).
	OnCandidateCompleted(ctx context.Context, prepared P, result R)

	// CaptureExecutionFailure is given an ExecuteCandidate error and may
	// convert it into a synthetic outcome (ok=true) so the candidate still
	// produces exactly one result. Returning ok=false leaves the
	// candidate without a result and marks the competition failed.
	CaptureExecutionFailure(ctx context.Context, prepared P, err error) (result R, ok bool)

	// FinalizeCompetition runs exactly once, even if preparation failed,
	// and must release every resource the adapter allocated.
	FinalizeCompetition(ctx context.Context, failed bool)
}

// Outcome is the result of one Run call.
type Outcome[R any] struct {
	// Results holds one entry per prepared candidate that produced an
	// outcome, in input order unless Options.Less reorders them.
	Results []R

	// Failed is true if any execute-phase error was not captured into a
	// synthetic result.
	Failed bool

	// Errors holds only the uncaptured execute-phase errors, in candidate
	// input order; a candidate that produced a result has no entry, so
	// Errors is not index-aligned with the candidates or with Results.
	Errors []error
}

// Options configures one Run call.
type Options[R any] struct {
	// MaxParallel bounds concurrent ExecuteCandidate calls. Values <= 0
	// are treated as 1.
	MaxParallel int

	// Less, if set, is used to sort Results after every candidate has
	// completed. If nil, Results preserve the order candidates were
	// supplied in.
	Less func(a, b R) bool
}

// Run drives adapter through the prepare/execute/finalize protocol for
// candidates and returns one outcome per candidate that reached a result.
//
// A preparation failure aborts the whole competition without attempting any
// execution; FinalizeCompetition still runs. Execution failures are
// isolated per candidate and never cancel peers.
func Run[C any, P any, R any](ctx context.Context, adapter Adapter[C, P, R], candidates []C, opts Options[R]) (*Outcome[R], error) {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	if len(candidates) == 0 {
		adapter.FinalizeCompetition(ctx, false)
		return &Outcome[R]{}, nil
	}

	prepared := make([]P, 0, len(candidates))
	for i, c := range candidates {
		p, err := adapter.PrepareCandidate(ctx, c)
		if err != nil {
			adapter.FinalizeCompetition(ctx, true)
			return nil, fmt.Errorf("prepare candidate %d: %w", i, err)
		}
		prepared = append(prepared, p)
	}

	results := make([]*R, len(prepared))
	execErrs := make([]error, len(prepared))
	failed := false
	var failedMu sync.Mutex

	sem := semaphore.NewWeighted(int64(maxParallel))
	g, gctx := errgroup.WithContext(ctx)
	// gctx is only used to let a caller-supplied ctx cancellation stop
	// issuing new work; an individual candidate's own failure must never
	// cancel its peers, so no error returned from a worker goroutine ever
	// propagates back into g (every worker always returns nil).

	for i, p := range prepared {
		i, p := i, p
		if err := sem.Acquire(gctx, 1); err != nil {
			// Context cancelled before this candidate could start;
			// treat it as an uncaptured execution failure rather than
			// silently dropping it.
			failedMu.Lock()
			failed = true
			failedMu.Unlock()
			execErrs[i] = err
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)

			result, err := adapter.ExecuteCandidate(ctx, p)
			if err == nil {
				adapter.OnCandidateCompleted(ctx, p, result)
				results[i] = &result
				return nil
			}

			if synthetic, ok := adapter.CaptureExecutionFailure(ctx, p, err); ok {
				results[i] = &synthetic
				return nil
			}

			failedMu.Lock()
			failed = true
			failedMu.Unlock()
			execErrs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	out := &Outcome[R]{Failed: failed}
	for _, r := range results {
		if r != nil {
			out.Results = append(out.Results, *r)
		}
	}
	for _, e := range execErrs {
		if e != nil {
			out.Errors = append(out.Errors, e)
		}
	}

	if opts.Less != nil {
		sort.SliceStable(out.Results, func(a, b int) bool {
			return opts.Less(out.Results[a], out.Results[b])
		})
	}

	adapter.FinalizeCompetition(ctx, failed)
	return out, nil
}
