package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeCandidate struct {
	id   string
	fail bool
}

type fakePrepared struct {
	id   string
	fail bool
}

type fakeResult struct {
	id     string
	status string
}

type fakeAdapter struct {
	mu           sync.Mutex
	finalizeN    int32
	finalized    bool
	finalizeFail bool
	completed    []string
	captureOK    bool
	maxObserved  atomic.Int64
	inFlight     atomic.Int64
}

func (a *fakeAdapter) PrepareCandidate(_ context.Context, c fakeCandidate) (fakePrepared, error) {
	if c.id == "prepare-fail" {
		return fakePrepared{}, errors.New("boom during prepare")
	}
	return fakePrepared{id: c.id, fail: c.fail}, nil
}

func (a *fakeAdapter) ExecuteCandidate(_ context.Context, p fakePrepared) (fakeResult, error) {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		cur := a.maxObserved.Load()
		if n <= cur || a.maxObserved.CompareAndSwap(cur, n) {
			break
		}
	}

	if p.fail {
		return fakeResult{}, errors.New("execution failed for " + p.id)
	}
	return fakeResult{id: p.id, status: "succeeded"}, nil
}

func (a *fakeAdapter) OnCandidateCompleted(_ context.Context, p fakePrepared, _ fakeResult) {
	a.mu.Lock()
	a.completed = append(a.completed, p.id)
	a.mu.Unlock()
}

func (a *fakeAdapter) CaptureExecutionFailure(_ context.Context, p fakePrepared, _ error) (fakeResult, bool) {
	if !a.captureOK {
		return fakeResult{}, false
	}
	return fakeResult{id: p.id, status: "failed"}, true
}

func (a *fakeAdapter) FinalizeCompetition(_ context.Context, failed bool) {
	atomic.AddInt32(&a.finalizeN, 1)
	a.finalizeFail = failed
	a.finalized = true
}

func TestRunAllSucceedPreservesOrder(t *testing.T) {
	adapter := &fakeAdapter{captureOK: true}
	candidates := []fakeCandidate{{id: "a"}, {id: "b"}, {id: "c"}}

	out, err := Run[fakeCandidate, fakePrepared, fakeResult](context.Background(), adapter, candidates, Options[fakeResult]{MaxParallel: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed {
		t.Error("Failed = true, want false")
	}
	if len(out.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(out.Results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if out.Results[i].id != want {
			t.Errorf("Results[%d].id = %q, want %q", i, out.Results[i].id, want)
		}
	}
	if atomic.LoadInt32(&adapter.finalizeN) != 1 {
		t.Errorf("FinalizeCompetition called %d times, want 1", adapter.finalizeN)
	}
}

func TestPrepareFailureAbortsAndStillFinalizes(t *testing.T) {
	adapter := &fakeAdapter{captureOK: true}
	candidates := []fakeCandidate{{id: "a"}, {id: "prepare-fail"}, {id: "c"}}

	out, err := Run[fakeCandidate, fakePrepared, fakeResult](context.Background(), adapter, candidates, Options[fakeResult]{MaxParallel: 2})
	if err == nil {
		t.Fatal("expected a prepare-failure error")
	}
	if out != nil {
		t.Errorf("expected nil outcome on prepare failure, got %+v", out)
	}
	if atomic.LoadInt32(&adapter.finalizeN) != 1 {
		t.Errorf("FinalizeCompetition called %d times, want 1", adapter.finalizeN)
	}
	if !adapter.finalizeFail {
		t.Error("FinalizeCompetition should observe failed=true on prepare failure")
	}
}

// TestPartialExecutionFailureIsCaptured mirrors the three-candidate,
// max-parallel-2, middle-candidate-fails scenario: every candidate still
// produces exactly one outcome and finalize runs once.
func TestPartialExecutionFailureIsCaptured(t *testing.T) {
	adapter := &fakeAdapter{captureOK: true}
	candidates := []fakeCandidate{{id: "A"}, {id: "B", fail: true}, {id: "C"}}

	out, err := Run[fakeCandidate, fakePrepared, fakeResult](context.Background(), adapter, candidates, Options[fakeResult]{MaxParallel: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3 (every candidate produces an outcome)", len(out.Results))
	}
	byID := map[string]string{}
	for _, r := range out.Results {
		byID[r.id] = r.status
	}
	if byID["A"] != "succeeded" || byID["C"] != "succeeded" || byID["B"] != "failed" {
		t.Errorf("unexpected statuses: %+v", byID)
	}
	if atomic.LoadInt32(&adapter.finalizeN) != 1 {
		t.Errorf("FinalizeCompetition called %d times, want 1", adapter.finalizeN)
	}
}

func TestUncapturedExecutionFailureMarksCompetitionFailed(t *testing.T) {
	adapter := &fakeAdapter{captureOK: false}
	candidates := []fakeCandidate{{id: "A"}, {id: "B", fail: true}}

	out, err := Run[fakeCandidate, fakePrepared, fakeResult](context.Background(), adapter, candidates, Options[fakeResult]{MaxParallel: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Failed {
		t.Error("Failed = false, want true")
	}
	if len(out.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(out.Errors))
	}
	if len(out.Results) != 1 || out.Results[0].id != "A" {
		t.Errorf("Results = %+v, want just A's outcome", out.Results)
	}
}

func TestExecutionIsBoundedByMaxParallel(t *testing.T) {
	adapter := &fakeAdapter{captureOK: true}
	candidates := make([]fakeCandidate, 8)
	for i := range candidates {
		candidates[i] = fakeCandidate{id: string(rune('a' + i))}
	}

	_, err := Run[fakeCandidate, fakePrepared, fakeResult](context.Background(), adapter, candidates, Options[fakeResult]{MaxParallel: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if adapter.maxObserved.Load() > 3 {
		t.Errorf("observed %d concurrent executions, want <= 3", adapter.maxObserved.Load())
	}
}

func TestEmptyCandidateListStillFinalizes(t *testing.T) {
	adapter := &fakeAdapter{captureOK: true}

	out, err := Run[fakeCandidate, fakePrepared, fakeResult](context.Background(), adapter, nil, Options[fakeResult]{MaxParallel: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Results) != 0 {
		t.Errorf("Results = %+v, want empty", out.Results)
	}
	if atomic.LoadInt32(&adapter.finalizeN) != 1 {
		t.Errorf("FinalizeCompetition called %d times, want 1", adapter.finalizeN)
	}
}

func TestResultsSortedByCustomComparator(t *testing.T) {
	adapter := &fakeAdapter{captureOK: true}
	candidates := []fakeCandidate{{id: "c"}, {id: "a"}, {id: "b"}}

	out, err := Run[fakeCandidate, fakePrepared, fakeResult](context.Background(), adapter, candidates, Options[fakeResult]{
		MaxParallel: 3,
		Less: func(a, b fakeResult) bool {
			return a.id < b.id
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := []string{out.Results[0].id, out.Results[1].id, out.Results[2].id}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Results order = %v, want %v", got, want)
		}
	}
}
