package util

import (
	"context"
	"errors"
	"time"
)

// AttemptState is the outcome class of a single attempt.
type AttemptState int

const (
	// AttemptSuccess ends the loop with the attempt's value.
	AttemptSuccess AttemptState = iota
	// AttemptRetryable asks the loop to wait Delay and try again.
	AttemptRetryable
	// AttemptTerminal ends the loop without further attempts.
	AttemptTerminal
)

func (s AttemptState) String() string {
	switch s {
	case AttemptSuccess:
		return "success"
	case AttemptRetryable:
		return "retryable"
	case AttemptTerminal:
		return "terminal"
	}
	return "unknown"
}

// Attempt is what one try of a RetryAttempts loop reports back.
type Attempt[T any] struct {
	State AttemptState
	Value T
	Delay time.Duration
	Err   error
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is done, whichever happens first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryAttempts runs fn up to maxTries times. fn receives the 1-based attempt
// number and classifies its own outcome. A retryable attempt sleeps for its
// Delay before the next one; no sleep follows the last attempt.
//
// The last attempt is always returned, so callers can inspect the value and
// error of a failed run. If sleep is nil, SleepContext is used. A canceled
// context ends the loop with a terminal attempt carrying ctx.Err().
func RetryAttempts[T any](
	ctx context.Context,
	maxTries int,
	sleep SleepFunc,
	fn func(ctx context.Context, attempt int) Attempt[T],
) (Attempt[T], int) {
	if maxTries <= 0 {
		maxTries = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}

	var last Attempt[T]
	for i := 1; i <= maxTries; i++ {
		if err := ctx.Err(); err != nil {
			return Attempt[T]{State: AttemptTerminal, Value: last.Value, Err: err}, i - 1
		}
		last = fn(ctx, i)
		if last.State != AttemptRetryable {
			return last, i
		}
		if i == maxTries {
			break
		}
		if err := sleep(ctx, last.Delay); err != nil {
			return Attempt[T]{State: AttemptTerminal, Value: last.Value, Err: err}, i
		}
	}
	return last, maxTries
}

// RetryErrWithContext calls fn up to maxTries times until it returns nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// RetryWithContext calls fn up to maxTries times until it returns a result and nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
// Errors marked with Permanent are returned without further attempts.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		var p *permanentError
		if errors.As(err, &p) {
			return zero, p.err
		}
		lastErr = err
	}
	return zero, lastErr
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that RetryWithContext stops immediately and
// returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
