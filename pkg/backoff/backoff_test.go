package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/pkg/backoff"
)

func TestExponential_NextInterval(t *testing.T) {
	t.Parallel()

	b := backoff.Exponential{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Multiplier:      2,
	}

	assert.Equal(t, time.Duration(0), b.NextInterval(0))
	assert.Equal(t, 10*time.Millisecond, b.NextInterval(1))
	assert.Equal(t, 20*time.Millisecond, b.NextInterval(2))
	assert.Equal(t, 40*time.Millisecond, b.NextInterval(3))
	assert.Equal(t, 50*time.Millisecond, b.NextInterval(4), "capped at max")
}

func TestExponential_Jitter(t *testing.T) {
	t.Parallel()

	b := backoff.Exponential{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, JitterFactor: 0.5}
	for range 50 {
		d := b.NextInterval(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")
	fast := backoff.Fixed{Interval: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := backoff.Retry(context.Background(), 3, fast, nil, func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := backoff.Retry(context.Background(), 2, fast, nil, func(context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, backoff.ErrAttemptsExhausted)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := backoff.Retry(context.Background(), 5, fast,
			func(err error) bool { return !errors.Is(err, errFatal) },
			func(context.Context) error {
				calls++
				return errFatal
			})
		assert.ErrorIs(t, err, errFatal)
		assert.NotErrorIs(t, err, backoff.ErrAttemptsExhausted)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := backoff.Retry(ctx, 5, backoff.Fixed{Interval: time.Hour}, nil, func(context.Context) error {
			return errTransient
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
