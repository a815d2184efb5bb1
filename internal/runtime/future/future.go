// Package future provides a single-assignment completion signal. A Future is
// resolved or rejected at most once; waiters either block on Wait or register
// a non-blocking continuation with Then.
package future

import (
	"context"
	"sync"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
)

// Future carries the eventual value or error of an asynchronous operation.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// New returns a pending Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a Future already completed with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Canceled returns a Future already rejected with ErrCanceled.
func Canceled[T any]() *Future[T] {
	return Rejected[T](errspkg.ErrCanceled)
}

// Resolve completes the future successfully. It reports false when the
// future was already completed.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with err. A nil err is replaced by ErrCanceled
// so a rejected future never looks successful.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = errspkg.ErrCanceled
	}
	var zero T
	return f.complete(zero, err)
}

// Cancel rejects the future with ErrCanceled.
func (f *Future[T]) Cancel() bool {
	return f.Reject(errspkg.ErrCanceled)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Peek returns the outcome without blocking; ok is false while pending.
func (f *Future[T]) Peek() (value T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.completed {
		return value, nil, false
	}
	return f.value, f.err, true
}

// Wait blocks until the future completes or ctx is done.
//
// Never call Wait from the dispatcher goroutine for a future whose completion
// needs another dispatcher round trip; use Then instead.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to run once the future completes. fn runs on the
// completing goroutine, or immediately on the caller's goroutine when the
// future is already complete.
func (f *Future[T]) Then(fn func(T, error)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}
