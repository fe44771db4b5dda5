package completion

import (
	"context"
	"sync"
)

// Future is a value that becomes available later.
//
// Observers registered with OnDone or Then run before Done is closed, so a
// caller that awaited the future sees every side effect of completion
// (including span finish). Resolution never alters the value or error.
type Future[T any] struct {
	once sync.Once
	sig  *Signal
	done chan struct{}
	val  T
	err  error
}

// NewFuture creates an unresolved future and the function that resolves it.
// Only the first call to resolve has any effect.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{
		sig:  NewSignal(),
		done: make(chan struct{}),
	}
	return f, f.resolve
}

// Go runs fn on a new goroutine and returns a future for its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f, resolve := NewFuture[T]()
	go func() {
		resolve(fn())
	}()
	return f
}

// Resolved returns a future that already completed with val and err.
func Resolved[T any](val T, err error) *Future[T] {
	f, resolve := NewFuture[T]()
	resolve(val, err)
	return f
}

func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		f.sig.Fire(err)
		close(f.done)
	})
}

// OnDone implements Source.
func (f *Future[T]) OnDone(fn func(error)) {
	f.sig.OnDone(fn)
}

// Then registers fn to receive the value and error once resolved.
func (f *Future[T]) Then(fn func(T, error)) {
	if fn == nil {
		return
	}
	f.sig.OnDone(func(error) {
		fn(f.val, f.err)
	})
}

// Done is closed once the future resolved and its observers ran.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
