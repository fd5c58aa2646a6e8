package util

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryWithContext calls fn up to maxTries times until it returns a non-nil result and nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
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
		lastErr = err
	}
	return zero, lastErr
}

// RetryErrWithContext is RetryWithContext for functions that only return an error.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Backoff is an exponential delay schedule. Delay(1) is the wait after the
// first failed attempt.
type Backoff struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// Delay returns the wait before attempt+1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Initial <= 0 {
		return 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := time.Duration(float64(b.Initial) * math.Pow(factor, float64(attempt-1)))
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// BackoffParams configures RetryWithBackoff.
type BackoffParams struct {
	MaxTries int
	Backoff  Backoff
	// ShouldRetry decides whether an error is worth another attempt. Nil retries everything.
	ShouldRetry func(error) bool
	// Sleep waits between attempts. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// RetryWithBackoff calls fn until it succeeds, returns an error ShouldRetry rejects,
// ctx is done or MaxTries attempts have been made. It returns the number of
// attempts made alongside the result.
func RetryWithBackoff[T any](
	ctx context.Context,
	params BackoffParams,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, int, error) {
	maxTries := params.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	sleep := params.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempt, err
		}
		if params.ShouldRetry != nil && !params.ShouldRetry(err) {
			return zero, attempt, err
		}
		if attempt == maxTries {
			break
		}

		wait := params.Backoff.Delay(attempt)
		if params.OnRetry != nil {
			params.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, attempt, err
		}
	}
	return zero, maxTries, lastErr
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
