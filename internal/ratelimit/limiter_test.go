package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
)

// fastLimiter keeps delays short enough for tests.
func fastLimiter(t *testing.T, maxAttempts int) *Limiter {
	t.Helper()
	l, err := NewLimiter(&Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxAttempts:       maxAttempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		DefaultRetryAfter: time.Millisecond,
	})
	require.NoError(t, err)
	return l
}

func TestNewLimiter(t *testing.T) {
	t.Run("applies defaults for zero config", func(t *testing.T) {
		l, err := NewLimiter(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxAttempts, l.MaxAttempts())
	})

	t.Run("rejects negative rate", func(t *testing.T) {
		_, err := NewLimiter(&Config{RequestsPerSecond: -1})
		assert.Error(t, err)
	})

	t.Run("rejects base delay above max delay", func(t *testing.T) {
		_, err := NewLimiter(&Config{BaseDelay: time.Minute, MaxDelay: time.Second})
		assert.Error(t, err)
	})
}

func TestDo(t *testing.T) {
	t.Run("returns nil on first success", func(t *testing.T) {
		l := fastLimiter(t, 3)

		calls := 0
		err := l.Do(context.Background(), "get_balance", func(ctx context.Context) error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries rate-limited errors until success", func(t *testing.T) {
		l := fastLimiter(t, 4)

		calls := 0
		err := l.Do(context.Background(), "get_proxies", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return apierrors.NewRateLimitedError(time.Millisecond)
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("retries transient errors until success", func(t *testing.T) {
		l := fastLimiter(t, 4)

		calls := 0
		err := l.Do(context.Background(), "get_proxies", func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return apierrors.NewTransientError("connection reset", nil)
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausted budget surfaces last error with attempt count", func(t *testing.T) {
		l := fastLimiter(t, 3)

		calls := 0
		err := l.Do(context.Background(), "get_proxies", func(ctx context.Context) error {
			calls++
			return apierrors.NewTransientError("upstream unavailable", nil)
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)

		catErr := apierrors.AsCategorized(err)
		require.NotNil(t, catErr)
		assert.Equal(t, apierrors.CategoryTransient, catErr.Category)
		assert.Equal(t, 3, catErr.Attempts)
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		l := fastLimiter(t, 4)

		calls := 0
		err := l.Do(context.Background(), "get_balance", func(ctx context.Context) error {
			calls++
			return apierrors.NewUnauthorizedError("invalid credentials")
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, apierrors.IsUnauthorized(err))
	})

	t.Run("malformed response is not retried", func(t *testing.T) {
		l := fastLimiter(t, 4)

		calls := 0
		err := l.Do(context.Background(), "get_proxies", func(ctx context.Context) error {
			calls++
			return apierrors.NewMalformedError("unexpected payload shape", nil)
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, apierrors.CategoryMalformed, apierrors.CategoryOf(err))
	})

	t.Run("cancelled context aborts the wait", func(t *testing.T) {
		l := fastLimiter(t, 4)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := l.Do(ctx, "get_balance", func(ctx context.Context) error {
			t.Fatal("fn must not run after cancellation")
			return nil
		})
		assert.ErrorIs(t, err, ErrContextCancelled)
		assert.ErrorIs(t, err, context.Canceled)

		// Cancellation is the caller's doing, never a retryable
		// provider failure.
		assert.Equal(t, apierrors.CategoryCancelled, apierrors.CategoryOf(err))
		assert.False(t, apierrors.IsRetryable(err))
	})

	t.Run("cancellation during backoff stops retrying", func(t *testing.T) {
		l, err := NewLimiter(&Config{
			RequestsPerSecond: 1000,
			Burst:             1000,
			MaxAttempts:       3,
			BaseDelay:         time.Second,
			MaxDelay:          time.Second,
			DefaultRetryAfter: time.Second,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		err = l.Do(ctx, "get_proxies", func(ctx context.Context) error {
			calls++
			return apierrors.NewTransientError("flaky", nil)
		})

		assert.ErrorIs(t, err, ErrContextCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, apierrors.CategoryCancelled, apierrors.CategoryOf(err))
		assert.Equal(t, 1, calls)
	})
}

func TestRetryDelay(t *testing.T) {
	l := fastLimiter(t, 4)

	t.Run("honors rate-limited retry-after hint", func(t *testing.T) {
		delay := l.retryDelay(apierrors.NewRateLimitedError(42*time.Millisecond), 1)
		assert.Equal(t, 42*time.Millisecond, delay)
	})

	t.Run("falls back to default when hint is missing", func(t *testing.T) {
		delay := l.retryDelay(apierrors.NewRateLimitedError(0), 1)
		assert.Equal(t, time.Millisecond, delay)
	})

	t.Run("transient backoff grows and is capped", func(t *testing.T) {
		transient := apierrors.NewTransientError("boom", nil)
		for attempt := 1; attempt <= 10; attempt++ {
			delay := l.retryDelay(transient, attempt)
			// Cap is 5ms with jitter up to 1.25x.
			assert.LessOrEqual(t, delay, time.Duration(float64(5*time.Millisecond)*1.25))
			assert.Greater(t, delay, time.Duration(0))
		}
	})
}
