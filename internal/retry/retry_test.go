package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	r := NewExponentialBackoffRetryer(
		WithMaxRetries(3),
		WithDelays(10*time.Millisecond, time.Second),
		WithoutJitter(),
		WithSleep(noSleep),
		WithOnRetry(func(_ int, d time.Duration, _ error) { delays = append(delays, d) }),
	)

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestRetry_GivesUp(t *testing.T) {
	r := NewExponentialBackoffRetryer(WithMaxRetries(2), WithSleep(noSleep))
	cause := errors.New("down")

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	r := NewExponentialBackoffRetryer(
		WithSleep(noSleep),
		WithRetryable(func(err error) bool { return !errors.Is(err, fatal) }),
	)

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewExponentialBackoffRetryer()
	err := r.Retry(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_CappedWithJitterBound(t *testing.T) {
	r := NewExponentialBackoffRetryer(WithDelays(100*time.Millisecond, 400*time.Millisecond))

	for attempt := 0; attempt < 8; attempt++ {
		d := r.Delay(attempt)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	}
}
