package appmenu

import (
	"context"
	"sync"
)

// future is a value that becomes available once.
type future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// resolve sets the result. Only the first call has an effect.
func (f *future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *future[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Completion is the result of an asynchronous bus call.
type Completion struct {
	f *future[struct{}]
}

func newCompletion() *Completion {
	return &Completion{f: newFuture[struct{}]()}
}

func (c *Completion) complete(err error) {
	c.f.resolve(struct{}{}, err)
}

// Done is closed when the call has completed.
func (c *Completion) Done() <-chan struct{} {
	return c.f.done
}

// Wait waits for the call to complete and returns its error. If ctx is done
// first, ctx.Err() is returned and the call keeps running.
func (c *Completion) Wait(ctx context.Context) error {
	_, err := c.f.wait(ctx)
	return err
}
