package scheduler

import (
	"context"
	"sync"
)

// Handle is a single-assignment completion handle. The dispatcher resolves
// it exactly once with either a result or a typed error; callers block in
// Wait.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	result *Result
	err    error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// resolve assigns the outcome. Later calls are no-ops.
func (h *Handle) resolve(result *Result, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the request is resolved or ctx is cancelled. It is safe
// to call from multiple goroutines; all see the same outcome.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved reports whether the handle has been assigned, without blocking
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
