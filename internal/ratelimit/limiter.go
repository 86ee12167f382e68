// Package ratelimit guards outbound provider calls. One Limiter instance is
// shared by the sync coordinator and the command dispatcher so both count
// against the same provider-wide budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/logging"
)

// Default limiter configuration values.
const (
	DefaultRequestsPerSecond = 2.0
	DefaultBurst             = 4
	DefaultMaxAttempts       = 4
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultMaxDelay          = 30 * time.Second
	DefaultRetryAfter        = 5 * time.Second
)

// ErrContextCancelled marks errors returned when the context is cancelled
// while waiting for pacing or backoff. The returned error also carries the
// cancelled taxonomy category and wraps the context's own error.
var ErrContextCancelled = errors.New("context cancelled while waiting for rate limit")

func cancelledError(cause error) error {
	return apierrors.NewCancelledError(fmt.Errorf("%w: %w", ErrContextCancelled, cause))
}

// Limiter paces outbound calls against the provider's global ceiling and
// wraps them in a bounded retry envelope:
//   - RateLimited: sleep for the provider's retry-after hint (or a default)
//     and retry;
//   - Transient: exponential backoff with jitter and retry;
//   - anything else: fail immediately.
type Limiter struct {
	pacer             *rate.Limiter
	maxAttempts       int
	baseDelay         time.Duration
	maxDelay          time.Duration
	defaultRetryAfter time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// Config holds configuration for the limiter.
type Config struct {
	// RequestsPerSecond is the steady-state outbound call ceiling. Default: 2.
	RequestsPerSecond float64
	// Burst is the pacing burst size. Default: 4.
	Burst int
	// MaxAttempts bounds the retry envelope, first try included. Default: 4.
	MaxAttempts int
	// BaseDelay is the first transient-failure backoff. Default: 500ms.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration
	// DefaultRetryAfter is used when a rate-limited response carries no
	// retry-after hint. Default: 5s.
	DefaultRetryAfter time.Duration
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.New("requests per second cannot be negative")
	}
	if c.MaxAttempts < 0 {
		return errors.New("max attempts cannot be negative")
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return errors.New("delays cannot be negative")
	}
	if c.MaxDelay > 0 && c.BaseDelay > 0 && c.BaseDelay > c.MaxDelay {
		return errors.New("base delay cannot exceed max delay")
	}
	return nil
}

// NewLimiter creates a new limiter with the given configuration.
func NewLimiter(cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = DefaultBurst
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	defaultRetryAfter := cfg.DefaultRetryAfter
	if defaultRetryAfter == 0 {
		defaultRetryAfter = DefaultRetryAfter
	}

	return &Limiter{
		pacer:             rate.NewLimiter(rate.Limit(rps), burst),
		maxAttempts:       maxAttempts,
		baseDelay:         baseDelay,
		maxDelay:          maxDelay,
		defaultRetryAfter: defaultRetryAfter,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Do executes fn under the shared pacing budget with the retry envelope.
// It is safe for concurrent use; concurrent callers share one budget.
func (l *Limiter) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := logging.FromContext(ctx).WithField("op", op)

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := l.pacer.Wait(ctx); err != nil {
			return cancelledError(err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !apierrors.IsRetryable(err) {
			return err
		}
		if attempt == l.maxAttempts {
			break
		}

		delay := l.retryDelay(err, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": l.maxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Warn("operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return cancelledError(ctx.Err())
		}
	}

	logger.WithFields(map[string]interface{}{
		"attempts": l.maxAttempts,
		"error":    lastErr.Error(),
	}).Error("operation failed after max retry attempts")

	return apierrors.WithAttempts(lastErr, l.maxAttempts)
}

// retryDelay picks the wait before the next attempt. Rate-limited errors
// honor the provider's hint; transient errors back off exponentially with
// jitter so concurrent callers do not retry in lockstep.
func (l *Limiter) retryDelay(err error, attempt int) time.Duration {
	if catErr := apierrors.AsCategorized(err); catErr != nil && catErr.Category == apierrors.CategoryRateLimited {
		if catErr.RetryAfter > 0 {
			return catErr.RetryAfter
		}
		return l.defaultRetryAfter
	}

	backoff := float64(l.baseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(l.maxDelay) {
		backoff = float64(l.maxDelay)
	}

	// Jitter in [0.75, 1.25) of the computed backoff.
	l.mu.Lock()
	factor := 0.75 + l.rng.Float64()*0.5
	l.mu.Unlock()

	return time.Duration(backoff * factor)
}

// MaxAttempts returns the configured attempt bound.
func (l *Limiter) MaxAttempts() int {
	return l.maxAttempts
}
