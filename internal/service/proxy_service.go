// Package service exposes the integration core's public interface:
// cached reads, refresh requests and mutating commands.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/manjotsc/ha-proxy-cheap/internal/cache"
	"github.com/manjotsc/ha-proxy-cheap/internal/coordinator"
	"github.com/manjotsc/ha-proxy-cheap/internal/dispatcher"
	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// ProxyService is the facade consumed by the presentation layer. Reads are
// served from the state cache only; mutations go through the dispatcher.
type ProxyService struct {
	cache       *cache.StateCache
	coordinator *coordinator.Coordinator
	dispatcher  *dispatcher.Dispatcher
}

// NewProxyService creates the service facade.
func NewProxyService(c *cache.StateCache, coord *coordinator.Coordinator, disp *dispatcher.Dispatcher) (*ProxyService, error) {
	if c == nil {
		return nil, fmt.Errorf("state cache cannot be nil")
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if disp == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	return &ProxyService{cache: c, coordinator: coord, dispatcher: disp}, nil
}

// Refresh requests an out-of-band poll; redundant triggers are coalesced.
func (s *ProxyService) Refresh() {
	s.coordinator.Refresh()
}

// Status returns the coordinator's lifecycle state. A persistent
// auth-failed status marks the whole integration unavailable.
func (s *ProxyService) Status() coordinator.State {
	return s.coordinator.State()
}

// GetAccount returns the last polled account snapshot.
func (s *ProxyService) GetAccount() models.AccountSnapshot {
	return s.cache.Account()
}

// ListProxies returns all cached proxy records ordered by identifier.
func (s *ProxyService) ListProxies() []models.ProxyRecord {
	return s.cache.Proxies()
}

// GetProxy returns one proxy record, or a NotFound error.
func (s *ProxyService) GetProxy(id string) (models.ProxyRecord, error) {
	rec, ok := s.cache.Proxy(id)
	if !ok {
		return models.ProxyRecord{}, apierrors.NewNotFoundError("proxy", id)
	}
	return rec, nil
}

// ExtendProxy extends a proxy's rental period by months.
func (s *ProxyService) ExtendProxy(ctx context.Context, id string, months int) models.CommandResult {
	return s.dispatcher.Submit(ctx, models.CommandRequest{
		ProxyID:  id,
		Kind:     models.CommandExtend,
		Months:   months,
		IssuedAt: time.Now(),
	})
}

// BuyBandwidth purchases additional bandwidth, in GB, for a proxy.
func (s *ProxyService) BuyBandwidth(ctx context.Context, id string, amountGB float64) models.CommandResult {
	return s.dispatcher.Submit(ctx, models.CommandRequest{
		ProxyID:  id,
		Kind:     models.CommandBuyBandwidth,
		AmountGB: amountGB,
		IssuedAt: time.Now(),
	})
}

// UpdateWhitelist replaces a proxy's whitelisted IPs. An empty list clears it.
func (s *ProxyService) UpdateWhitelist(ctx context.Context, id string, ips []string) models.CommandResult {
	return s.dispatcher.Submit(ctx, models.CommandRequest{
		ProxyID:  id,
		Kind:     models.CommandUpdateWhitelist,
		IPs:      ips,
		IssuedAt: time.Now(),
	})
}

// SetAutoExtend enables or disables automatic renewal for a proxy.
func (s *ProxyService) SetAutoExtend(ctx context.Context, id string, enabled bool) models.CommandResult {
	return s.dispatcher.Submit(ctx, models.CommandRequest{
		ProxyID:    id,
		Kind:       models.CommandSetAutoExtend,
		AutoExtend: enabled,
		IssuedAt:   time.Now(),
	})
}

// UpdateCredentials installs new provider credentials and resumes polling
// after an authentication failure.
func (s *ProxyService) UpdateCredentials(apiKey, apiSecret string) {
	s.coordinator.UpdateCredentials(apiKey, apiSecret)
}
