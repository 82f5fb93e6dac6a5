package provider

import (
	"context"
	"fmt"
	"time"
)

// Await runs fn on its own goroutine and waits at most timeout for the
// result. Timeouts and panics are turned into a result by fail.
func Await[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T, fail func(kind ErrorKind, msg string) T) T {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fail(KindProvider, fmt.Sprintf("provider call panicked: %v", rec))
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		return fail(KindNetwork, fmt.Sprintf("provider call timed out: %v", callCtx.Err()))
	}
}
