package future

import (
	"context"
	"sync"
)

// Future is a single-assignment result slot. Any number of goroutines may wait
// on it; the first Settle wins and later ones are ignored.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// New creates an unsettled Future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already settled with v
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a Future already settled with err
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Settle stores the result. Returns false if the future was already settled.
func (f *Future[T]) Settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val = v
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Resolve settles the future with a value
func (f *Future[T]) Resolve(v T) bool {
	return f.Settle(v, nil)
}

// Reject settles the future with an error
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.Settle(zero, err)
}

// Done returns a channel closed once the future is settled
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done.
// Cancelling ctx does not settle the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the result without blocking; ok is false while unsettled
func (f *Future[T]) Peek() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Pipe settles dst with the result of f once f settles
func Pipe[T any](f *Future[T], dst *Future[T]) {
	go func() {
		<-f.done
		dst.Settle(f.val, f.err)
	}()
}
