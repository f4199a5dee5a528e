package flow

import (
	"context"
	"errors"
	"time"
)

// WithTimeout races fn against the deadline. On timeout the returned error's
// message is exactly the label, so callers can categorize which operation
// timed out. fn keeps running in its goroutine after a timeout; it must not
// hold resources the caller will reuse.
func WithTimeout[T any](ctx context.Context, d time.Duration, label string, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		ch <- outcome{v, err}
	}()

	select {
	case out := <-ch:
		return out.val, out.err
	case <-cctx.Done():
		var zero T
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, errors.New(label)
		}
		return zero, cctx.Err()
	}
}
