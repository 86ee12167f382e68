// Package dispatcher serializes mutating commands against the provider.
// Commands for the same proxy never run concurrently; a collision fails
// fast with Busy instead of queueing.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manjotsc/ha-proxy-cheap/internal/cache"
	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/logging"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
	"github.com/manjotsc/ha-proxy-cheap/internal/ratelimit"
)

// ProviderAPI is the slice of the provider client the dispatcher needs.
type ProviderAPI interface {
	ExtendProxy(ctx context.Context, proxyID string, months int) error
	BuyBandwidth(ctx context.Context, proxyID string, amountGB float64) error
	UpdateWhitelist(ctx context.Context, proxyID string, ips []string) error
	SetAutoExtend(ctx context.Context, proxyID string, enabled bool) error
}

// Dispatcher executes CommandRequests with per-proxy exclusivity and folds
// successful results into the state cache optimistically.
type Dispatcher struct {
	api     ProviderAPI
	limiter *ratelimit.Limiter
	cache   *cache.StateCache
	logger  *logging.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Config holds configuration for the dispatcher.
type Config struct {
	API     ProviderAPI
	Limiter *ratelimit.Limiter
	Cache   *cache.StateCache
	Logger  *logging.Logger
}

// New creates a new dispatcher.
func New(cfg *Config) (*Dispatcher, error) {
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

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Dispatcher{
		api:      cfg.API,
		limiter:  cfg.Limiter,
		cache:    cfg.Cache,
		logger:   logger.WithField("component", "dispatcher"),
		inflight: make(map[string]struct{}),
	}, nil
}

// Submit executes one mutating command. The per-proxy execution slot is
// acquired non-blockingly: a second command for the same proxy while one
// is pending gets a Busy error immediately. On success the expected field
// changes are applied to the cache before the next poll confirms them.
// The dispatcher itself never retries; retry policy for throttled and
// transient failures lives in the shared rate limiter.
func (d *Dispatcher) Submit(ctx context.Context, req models.CommandRequest) models.CommandResult {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.IssuedAt.IsZero() {
		req.IssuedAt = time.Now()
	}

	result := models.CommandResult{
		RequestID: req.RequestID,
		ProxyID:   req.ProxyID,
		Kind:      req.Kind,
	}

	if err := validate(req); err != nil {
		result.Err = err
		return result
	}

	if !d.tryAcquire(req.ProxyID) {
		result.Err = apierrors.NewBusyError(req.ProxyID)
		return result
	}
	defer d.release(req.ProxyID)

	logger := d.logger.WithFields(map[string]interface{}{
		"requestId": req.RequestID,
		"proxyId":   req.ProxyID,
		"kind":      string(req.Kind),
	})

	err := d.limiter.Do(ctx, "command_"+string(req.Kind), func(ctx context.Context) error {
		return d.execute(ctx, req)
	})
	if err != nil {
		logger.WithError(err).Error("command failed")
		result.Err = err
		return result
	}

	updates := d.optimisticUpdates(req)
	if d.cache.ApplyCommandResult(req.ProxyID, updates, time.Now()) {
		result.Updates = updates
	}

	logger.Info("command succeeded")
	result.Success = true
	return result
}

func (d *Dispatcher) execute(ctx context.Context, req models.CommandRequest) error {
	switch req.Kind {
	case models.CommandExtend:
		return d.api.ExtendProxy(ctx, req.ProxyID, req.Months)
	case models.CommandBuyBandwidth:
		return d.api.BuyBandwidth(ctx, req.ProxyID, req.AmountGB)
	case models.CommandUpdateWhitelist:
		return d.api.UpdateWhitelist(ctx, req.ProxyID, req.IPs)
	case models.CommandSetAutoExtend:
		return d.api.SetAutoExtend(ctx, req.ProxyID, req.AutoExtend)
	default:
		return apierrors.NewValidationError("kind", fmt.Sprintf("unknown command kind %q", req.Kind))
	}
}

// optimisticUpdates computes the field changes a confirmed command implies,
// based on the currently cached record. Unknown effects stay empty and wait
// for the next poll.
func (d *Dispatcher) optimisticUpdates(req models.CommandRequest) models.FieldUpdates {
	var updates models.FieldUpdates

	switch req.Kind {
	case models.CommandExtend:
		if rec, ok := d.cache.Proxy(req.ProxyID); ok && !rec.ExpiresAt.IsZero() {
			extended := rec.ExpiresAt.AddDate(0, req.Months, 0)
			updates.ExpiresAt = &extended
		}
	case models.CommandBuyBandwidth:
		if rec, ok := d.cache.Proxy(req.ProxyID); ok && !rec.BandwidthUnlimited() {
			if rec.BandwidthTotalGB != nil {
				total := *rec.BandwidthTotalGB + req.AmountGB
				updates.BandwidthTotalGB = &total
			}
			if rec.BandwidthRemainingGB != nil {
				remaining := *rec.BandwidthRemainingGB + req.AmountGB
				updates.BandwidthRemainingGB = &remaining
			}
		}
	case models.CommandUpdateWhitelist:
		ips := req.IPs
		if ips == nil {
			ips = []string{}
		}
		updates.WhitelistedIPs = ips
	case models.CommandSetAutoExtend:
		enabled := req.AutoExtend
		updates.AutoExtendEnabled = &enabled
	}

	return updates
}

func validate(req models.CommandRequest) error {
	if req.ProxyID == "" {
		return apierrors.NewValidationError("proxyId", "must not be empty")
	}
	switch req.Kind {
	case models.CommandExtend:
		if req.Months < 1 {
			return apierrors.NewValidationError("months", "must be at least 1")
		}
	case models.CommandBuyBandwidth:
		if req.AmountGB <= 0 {
			return apierrors.NewValidationError("amountGb", "must be positive")
		}
	case models.CommandUpdateWhitelist:
		// An empty list is valid: it clears the whitelist.
	case models.CommandSetAutoExtend:
	default:
		return apierrors.NewValidationError("kind", fmt.Sprintf("unknown command kind %q", req.Kind))
	}
	return nil
}

// tryAcquire claims the execution slot for a proxy without blocking.
func (d *Dispatcher) tryAcquire(proxyID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.inflight[proxyID]; taken {
		return false
	}
	d.inflight[proxyID] = struct{}{}
	return true
}

func (d *Dispatcher) release(proxyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, proxyID)
}
