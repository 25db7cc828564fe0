package qobserve

import (
	"context"
	"sync"
	"time"
)

// Status is the observable state of a Future.
type Status int

const (
	Pending Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

/*
Future is the dispatch handle for a submitted unit. The device worker stores
the outcome exactly once; the owner resolves it exactly once.

A Future is single-owner: concurrent Resolve calls from different goroutines
are serialized internally, but only the first one gets the value.
*/
type Future struct {
	id      string
	timeout time.Duration
	done    chan struct{}

	mu       sync.Mutex
	result   EvaluationResult
	err      error
	stored   bool
	consumed bool
}

func newFuture(id string, timeout time.Duration) *Future {
	return &Future{
		id:      id,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// ID returns the identifier of the unit behind this handle.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the result slot has been filled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// store fills the result slot. It reports false if the slot was already filled.
func (f *Future) store(result EvaluationResult, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stored {
		return false
	}

	f.result = result
	f.err = err
	f.stored = true
	close(f.done)
	return true
}

// Poll reports the current state without blocking or consuming the handle.
func (f *Future) Poll() Status {
	select {
	case <-f.done:
	default:
		return Pending
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Failed
	}
	return Ready
}

// Resolve blocks until the result is available, bounded by the pool's
// resolve timeout when one is configured.
func (f *Future) Resolve() (EvaluationResult, error) {
	ctx := context.Background()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.ResolveContext(ctx)
}

/*
ResolveContext blocks until the result is available or ctx is done. When ctx
ends first the handle is left unconsumed and ErrResolveTimeout (deadline) or
ctx.Err() (cancellation) is returned.
*/
func (f *Future) ResolveContext(ctx context.Context) (EvaluationResult, error) {
	f.mu.Lock()
	consumed := f.consumed
	f.mu.Unlock()
	if consumed {
		return EvaluationResult{}, &AlreadyResolvedError{ID: f.id}
	}

	select {
	case <-f.done:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return EvaluationResult{}, ErrResolveTimeout
		}
		return EvaluationResult{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.consumed {
		return EvaluationResult{}, &AlreadyResolvedError{ID: f.id}
	}
	f.consumed = true

	if f.err != nil {
		return EvaluationResult{}, f.err
	}
	return f.result, nil
}
