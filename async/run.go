// Package async runs functions in goroutines and hands their results back over channels.
package async

import (
	"context"

	"github.com/alanbriolat/video-fetcher/generic"
)

// Run will run a function in a goroutine, returning its result via a channel. The channel is buffered, so the
// goroutine finishes even if nobody receives.
func Run[T any](f func() T) <-chan T {
	c := make(chan T, 1)
	go func() {
		c <- f()
	}()
	return c
}

// RunResult is like Run, but for functions returning (T, error), which are delivered as a generic.Result[T].
func RunResult[T any](f func() (T, error)) <-chan generic.Result[T] {
	return Run(func() generic.Result[T] {
		return generic.NewResult(f())
	})
}

// Await runs f in a goroutine and waits for it, giving up with ctx.Err() if ctx is done first. f is not stopped by
// giving up, so it should watch ctx too.
func Await[T any](ctx context.Context, f func() (T, error)) (T, error) {
	select {
	case result := <-RunResult(f):
		return result.Parts()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
