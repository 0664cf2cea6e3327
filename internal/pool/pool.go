// Package pool provides the process-wide worker pool modules offload
// blocking work to. Capacity comes from the pipeline's max_threads.
package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently executing blocking tasks.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool admitting up to size concurrent tasks.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// RunBlocking executes fn on a pool slot and waits for its result. The
// calling task suspends cooperatively; if ctx is cancelled while waiting
// the call returns early, though an already-started fn runs to completion
// in the background.
func (p *Pool) RunBlocking(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		value, err := fn()
		done <- result{value, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
