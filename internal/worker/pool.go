// Package worker provides a generic concurrent worker pool for
// fan-out/fan-in session maintenance. Used by prune to parallelize
// artifact deletion across sessions — the competition engine has its own
// adapter-driven pool (internal/engine); this one is for plain item
// batches with no prepare/finalize protocol.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Result pairs a processed item with its original index to preserve ordering.
type Result[I, T any] struct {
	Index int
	Item  I
	Value T
	Err   error
}

// Pool fans out work items to a fixed number of goroutine workers
// and collects results preserving the original input order.
type Pool[I, T any] struct {
	concurrency int
}

// NewPool creates a worker pool with the given concurrency.
// If concurrency <= 0, defaults to runtime.NumCPU().
func NewPool[I, T any](concurrency int) *Pool[I, T] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[I, T]{concurrency: concurrency}
}

// Process distributes items across workers, applies fn to each, and returns
// results in the same order as the input slice. Errors from individual items
// are captured per-result rather than aborting the whole batch. Once ctx is
// cancelled, unstarted items complete with ctx.Err() instead of running.
func (p *Pool[I, T]) Process(ctx context.Context, items []I, fn func(context.Context, I) (T, error)) []Result[I, T] {
	if len(items) == 0 {
		return nil
	}

	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	type job struct {
		index int
		item  I
	}

	jobs := make(chan job, len(items))
	results := make([]Result[I, T], len(items))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r := Result[I, T]{Index: j.index, Item: j.item}
				if err := ctx.Err(); err != nil {
					r.Err = err
				} else {
					r.Value, r.Err = fn(ctx, j.item)
				}
				results[j.index] = r
			}
		}()
	}

	for i, item := range items {
		jobs <- job{index: i, item: item}
	}
	close(jobs)

	wg.Wait()

	return results
}
