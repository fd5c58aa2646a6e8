package caller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 2 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultBurst          = 10
)

// Params configures a Caller. Zero values fall back to the defaults above;
// a zero MaxConcurrent or RequestsPerMinute disables that limit.
type Params struct {
	Name string

	MaxConcurrent     int64
	RequestsPerMinute float64
	Burst             int

	// Timeout bounds every single attempt.
	Timeout time.Duration

	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxBackoff     time.Duration

	// Sleep replaces the backoff wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stats are cumulative counters of a Caller.
type Stats struct {
	Calls    int64
	Attempts int64
	Retries  int64
	Failures int64
}

// Caller runs fallible remote calls with admission control, a request rate
// limit, a per attempt timeout and exponential backoff on transient errors.
type Caller struct {
	name    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
	retry   util.BackoffParams

	calls    atomic.Int64
	attempts atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
}

// New creates a Caller from params.
func New(params Params) *Caller {
	c := &Caller{
		name:    params.Name,
		timeout: params.Timeout,
	}
	if c.name == "" {
		c.name = "call"
	}

	if params.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(params.MaxConcurrent)
	}
	if params.RequestsPerMinute > 0 {
		burst := params.Burst
		if burst <= 0 {
			burst = DefaultBurst
		}
		c.limiter = rate.NewLimiter(rate.Limit(params.RequestsPerMinute/60.0), burst)
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	initial := params.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	factor := params.BackoffFactor
	if factor < 1 {
		factor = DefaultBackoffFactor
	}

	c.retry = util.BackoffParams{
		MaxTries: maxAttempts,
		Backoff: util.Backoff{
			Initial: initial,
			Factor:  factor,
			Max:     params.MaxBackoff,
		},
		ShouldRetry: IsTransient,
		Sleep:       params.Sleep,
	}

	return c
}

// Stats returns a snapshot of the counters.
func (c *Caller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Calls:    c.calls.Load(),
		Attempts: c.attempts.Load(),
		Retries:  c.retries.Load(),
		Failures: c.failures.Load(),
	}
}

// Do runs fn through c. Transient failures are retried with backoff; once the
// attempts are used up a *RetryError wrapping the last error is returned.
// Non transient errors are returned as they are. A nil Caller calls fn once.
func Do[T any](ctx context.Context, c *Caller, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return fn(ctx)
	}
	c.calls.Add(1)

	params := c.retry
	params.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.retries.Add(1)
		logger.Warn(
			"[Caller] Transient failure, backing off",
			"caller", c.name,
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"err", err,
		)
	}

	result, attempts, err := util.RetryWithBackoff(ctx, params, func(ctx context.Context, _ int) (T, error) {
		return attempt(ctx, c, fn)
	})
	if err == nil {
		return result, nil
	}

	c.failures.Add(1)
	if IsTransient(err) && ctx.Err() == nil {
		return result, &RetryError{Op: op, Attempts: attempts, Err: err}
	}
	return result, err
}

func attempt[T any](ctx context.Context, c *Caller, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return zero, err
		}
		defer c.sem.Release(1)
	}

	c.attempts.Add(1)

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return zero, Transient(err)
	}
	return result, err
}
