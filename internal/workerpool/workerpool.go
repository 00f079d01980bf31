// Package workerpool provides a bounded pool for dispatching the core's two
// blocking-capable operations — JSON parse and HMAC verification — off the
// main I/O dispatch path, per §5.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent execution of blocking work. Saturation manifests
// as increased latency (callers block on Submit until a slot frees or their
// context is cancelled), never as dropped work.
type Pool struct {
	sem *semaphore.Weighted
}

// multiplier controls how many blocking tasks may run per CPU. Small,
// because the dispatched work (JSON parse, HMAC verify) is CPU-bound and
// brief, not I/O-bound.
const multiplier = 4

// New creates a pool sized to the available CPU count times a small
// multiplier. size, if > 0, overrides the computed default (used by tests
// and by configuration that wants to pin a specific size).
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0) * multiplier
		if size < 1 {
			size = 1
		}
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit runs fn on the pool, blocking the caller until a slot is available
// or ctx is cancelled. It returns fn's error, or ctx's error if ctx is
// cancelled while waiting for a slot or before fn finishes. The slot stays
// held until fn returns, even when the caller has already given up.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}
