package detector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout marks a primitive call abandoned after its deadline.
	ErrTimeout = errors.New("primitive call timed out")
	// ErrPanic marks a primitive call that panicked.
	ErrPanic = errors.New("primitive call panicked")
	// ErrBusy is returned while an abandoned call still holds the primitive.
	ErrBusy = errors.New("primitive busy with an abandoned call")
)

// call runs fn in its own goroutine with a deadline and turns panics into
// errors. On timeout the goroutine is abandoned; the ctx it received is
// already cancelled so fn can bail out early. When f is non-nil the frame
// stays alive until fn returns.
func call[T any](ctx context.Context, f *Frame, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	cctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	release := func() {}
	if f != nil {
		release = f.track()
	}
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := fn(cctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
