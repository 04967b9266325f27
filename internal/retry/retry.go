package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoffRetryer retries an operation with exponentially growing,
// jittered delays up to a ceiling.
type ExponentialBackoffRetryer struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     bool
	retryable  func(error) bool
	onRetry    func(attempt int, delay time.Duration, err error)
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures an ExponentialBackoffRetryer.
type Option func(*ExponentialBackoffRetryer)

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(r *ExponentialBackoffRetryer) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithDelays sets the base delay and the ceiling.
func WithDelays(base, max time.Duration) Option {
	return func(r *ExponentialBackoffRetryer) {
		if base > 0 {
			r.baseDelay = base
		}
		if max >= r.baseDelay {
			r.maxDelay = max
		}
	}
}

// WithoutJitter disables the random jitter.
func WithoutJitter() Option {
	return func(r *ExponentialBackoffRetryer) { r.jitter = false }
}

// WithRetryable restricts retries to errors for which fn returns true.
// Other errors are returned immediately.
func WithRetryable(fn func(error) bool) Option {
	return func(r *ExponentialBackoffRetryer) { r.retryable = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *ExponentialBackoffRetryer) { r.onRetry = fn }
}

// WithSleep replaces the wait function. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *ExponentialBackoffRetryer) { r.sleep = fn }
}

// NewExponentialBackoffRetryer creates a retryer. Defaults are 5 retries,
// 100ms base, 30s ceiling, factor 2 and up to 25% jitter.
func NewExponentialBackoffRetryer(opts ...Option) *ExponentialBackoffRetryer {
	r := &ExponentialBackoffRetryer{
		maxRetries: 5,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   30 * time.Second,
		multiplier: 2.0,
		jitter:     true,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func (r *ExponentialBackoffRetryer) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if r.retryable != nil && !r.retryable(err) {
			return err
		}

		lastErr = err
		if attempt == r.maxRetries {
			break
		}

		delay := r.Delay(attempt)
		slog.DebugContext(ctx, "Retry attempt failed, waiting before next attempt",
			"attempt", attempt+1, "max_attempts", r.maxRetries+1,
			"delay_ms", delay.Milliseconds(), "error", err)
		if r.onRetry != nil {
			r.onRetry(attempt+1, delay, err)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

// Delay returns the wait before retry number attempt+1.
func (r *ExponentialBackoffRetryer) Delay(attempt int) time.Duration {
	delay := float64(r.baseDelay) * math.Pow(r.multiplier, float64(attempt))
	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}

	if r.jitter {
		// up to 25% on top
		delay += rand.Float64() * delay * 0.25
	}

	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
