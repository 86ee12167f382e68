// Package coordinator owns the polling loop that keeps the state cache in
// sync with the remote provider.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/manjotsc/ha-proxy-cheap/internal/cache"
	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/logging"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
	"github.com/manjotsc/ha-proxy-cheap/internal/ratelimit"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	// StateBackoff marks a failed poll; it persists until the next poll
	// attempt starts, while cached data keeps being served.
	StateBackoff State = "backoff"
	// StateAuthFailed is terminal until credentials are refreshed: the
	// cache is cleared and no further polls are scheduled.
	StateAuthFailed State = "auth_failed"
)

// ProviderAPI is the slice of the provider client the coordinator needs.
type ProviderAPI interface {
	GetBalance(ctx context.Context) (models.AccountSnapshot, error)
	GetProxies(ctx context.Context) ([]models.ProxyRecord, error)
	SetCredentials(apiKey, apiSecret string)
}

// SnapshotPublisher receives the full snapshot after each successful poll.
// Optional; used for the Redis mirror.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, account models.AccountSnapshot, proxies []models.ProxyRecord) error
}

// Subscriber is notified with the structural diff of each successful poll.
type Subscriber func(diff cache.Diff)

// Coordinator periodically polls account and proxy state, reconciles it
// into the cache and publishes diffs. At most one poll is in flight at a
// time; redundant refresh triggers are coalesced.
type Coordinator struct {
	api       ProviderAPI
	limiter   *ratelimit.Limiter
	cache     *cache.StateCache
	interval  time.Duration
	publisher SnapshotPublisher
	logger    *logging.Logger

	mu          sync.Mutex
	state       State
	running     bool
	subscribers []Subscriber

	refreshCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config holds configuration for the coordinator.
type Config struct {
	API     ProviderAPI
	Limiter *ratelimit.Limiter
	Cache   *cache.StateCache
	// Interval between polls. Default: 300s. Must be positive.
	Interval time.Duration
	// Publisher is optional.
	Publisher SnapshotPublisher
	Logger    *logging.Logger
}

// New creates a new coordinator.
func New(cfg *Config) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.API == nil {
		return nil, fmt.Errorf("provider API cannot be nil")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("state cache cannot be nil")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 300 * time.Second
	}
	if interval < 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", interval)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Coordinator{
		api:       cfg.API,
		limiter:   cfg.Limiter,
		cache:     cfg.Cache,
		interval:  interval,
		publisher: cfg.Publisher,
		logger:    logger.WithField("component", "coordinator"),
		state:     StateIdle,
		refreshCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Subscribe registers a callback invoked with the diff of every successful
// poll that changed the proxy set. Must be called before Start.
func (c *Coordinator) Subscribe(fn Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins the polling loop, performing an immediate first poll.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is already running")
	}
	c.running = true
	c.mu.Unlock()

	c.logger.WithField("interval", c.interval.String()).Info("starting sync coordinator")

	go c.pollLoop(ctx)
	return nil
}

// Stop terminates the polling loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	<-c.doneCh
	c.logger.Info("sync coordinator stopped")
}

// Refresh requests an out-of-band poll. If a poll is already in flight the
// trigger is dropped, not queued; callers never block.
func (c *Coordinator) Refresh() {
	if c.State() == StateAuthFailed {
		c.logger.Debug("refresh ignored: authentication failed")
		return
	}
	select {
	case c.refreshCh <- struct{}{}:
	default:
		// A refresh is already pending; coalesce.
	}
}

// UpdateCredentials installs new provider credentials, leaves the terminal
// auth-failed state and schedules an immediate poll.
func (c *Coordinator) UpdateCredentials(apiKey, apiSecret string) {
	c.api.SetCredentials(apiKey, apiSecret)

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Info("credentials updated, resuming polling")
	c.Refresh()
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First poll happens immediately so consumers have data at startup.
	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.poll(ctx)
		case <-c.refreshCh:
			c.poll(ctx)
		}

		// Drop triggers that accumulated while the poll was in flight so
		// one slow poll does not cause an immediate follow-up burst.
		select {
		case <-c.refreshCh:
		default:
		}
		select {
		case <-ticker.C:
		default:
		}
	}
}

// poll runs one full fetch cycle: account balance plus the proxy list,
// both through the shared rate limiter, then reconciles the cache.
func (c *Coordinator) poll(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateAuthFailed {
		c.mu.Unlock()
		return
	}
	c.state = StatePolling
	c.mu.Unlock()

	start := time.Now()

	var account models.AccountSnapshot
	err := c.limiter.Do(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		account, err = c.api.GetBalance(ctx)
		return err
	})

	var proxies []models.ProxyRecord
	if err == nil {
		err = c.limiter.Do(ctx, "get_proxies", func(ctx context.Context) error {
			var innerErr error
			proxies, innerErr = c.api.GetProxies(ctx)
			return innerErr
		})
	}

	if err != nil {
		c.handlePollFailure(err)
		return
	}

	diff := c.cache.ApplyPoll(account, proxies, start)

	c.mu.Lock()
	c.state = StateIdle
	subscribers := append([]Subscriber(nil), c.subscribers...)
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{
		"proxies":  len(proxies),
		"added":    len(diff.Added),
		"removed":  len(diff.Removed),
		"changed":  len(diff.Changed),
		"duration": time.Since(start).String(),
	}).Info("poll completed")

	if !diff.Empty() {
		for _, fn := range subscribers {
			fn(diff)
		}
	}

	if c.publisher != nil {
		acct, recs := c.cache.Read()
		if err := c.publisher.PublishSnapshot(ctx, acct, recs); err != nil {
			c.logger.WithError(err).Warn("failed to publish snapshot")
		}
	}
}

// handlePollFailure decides between the terminal auth-failed state and a
// recoverable backoff. On any non-auth failure the cache is left untouched:
// stale data is preferred over no data.
func (c *Coordinator) handlePollFailure(err error) {
	if apierrors.IsUnauthorized(err) {
		c.cache.Clear()

		c.mu.Lock()
		c.state = StateAuthFailed
		c.mu.Unlock()

		c.logger.WithError(err).Error("authentication failed, cache cleared, polling halted")
		return
	}

	// Backoff holds until the next poll attempt so consumers can observe
	// that the last cycle failed; the cache keeps serving stale data.
	c.mu.Lock()
	c.state = StateBackoff
	c.mu.Unlock()

	c.logger.WithError(err).Warn("poll failed, keeping previous state")
}
