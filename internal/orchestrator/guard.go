package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is returned by Guard when the operation did not complete
// within its deadline.
type TimeoutError struct {
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Deadline)
}

// Timeout lets callers treat TimeoutError like a net.Error timeout.
func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Guard runs op and waits at most deadline for its result. The context passed
// to op is cancelled when Guard returns, so well-behaved operations abort
// their I/O; a late result is dropped. A deadline <= 0 disables the guard.
func Guard[T any](ctx context.Context, deadline time.Duration, op func(ctx context.Context) T) (T, error) {
	if deadline <= 0 {
		return op(ctx), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		done <- op(ctx)
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var zero T
	select {
	case v := <-done:
		return v, nil
	case <-timer.C:
		return zero, &TimeoutError{Deadline: deadline}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
