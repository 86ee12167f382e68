package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manjotsc/ha-proxy-cheap/internal/cache"
	"github.com/manjotsc/ha-proxy-cheap/internal/coordinator"
	"github.com/manjotsc/ha-proxy-cheap/internal/dispatcher"
	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
	"github.com/manjotsc/ha-proxy-cheap/internal/ratelimit"
)

func gb(v float64) *float64 { return &v }

// fullFakeProvider implements both the coordinator's and the dispatcher's
// view of the provider client.
type fullFakeProvider struct {
	mu       sync.Mutex
	commands []string
}

func (f *fullFakeProvider) GetBalance(ctx context.Context) (models.AccountSnapshot, error) {
	return models.AccountSnapshot{Balance: 42.50, Currency: "USD"}, nil
}

func (f *fullFakeProvider) GetProxies(ctx context.Context) ([]models.ProxyRecord, error) {
	return []models.ProxyRecord{
		{
			ID:                   "p1",
			IPAddress:            "203.0.113.10",
			Port:                 8080,
			Protocol:             models.ProtocolHTTP,
			NetworkType:          models.NetworkResidential,
			BandwidthTotalGB:     gb(10),
			BandwidthUsedGB:      gb(4),
			BandwidthRemainingGB: gb(6),
			ExpiresAt:            time.Date(2026, 11, 5, 10, 0, 0, 0, time.UTC),
			Active:               true,
			Status:               models.StatusActive,
		},
	}, nil
}

func (f *fullFakeProvider) SetCredentials(apiKey, apiSecret string) {}

func (f *fullFakeProvider) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, name)
	return nil
}

func (f *fullFakeProvider) ExtendProxy(ctx context.Context, proxyID string, months int) error {
	return f.record("extend")
}

func (f *fullFakeProvider) BuyBandwidth(ctx context.Context, proxyID string, amountGB float64) error {
	return f.record("buy_bandwidth")
}

func (f *fullFakeProvider) UpdateWhitelist(ctx context.Context, proxyID string, ips []string) error {
	return f.record("update_whitelist")
}

func (f *fullFakeProvider) SetAutoExtend(ctx context.Context, proxyID string, enabled bool) error {
	return f.record("set_auto_extend")
}

func newService(t *testing.T) (*ProxyService, *cache.StateCache) {
	t.Helper()

	provider := &fullFakeProvider{}
	stateCache := cache.NewStateCache()

	limiter, err := ratelimit.NewLimiter(&ratelimit.Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxAttempts:       1,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Millisecond,
		DefaultRetryAfter: time.Millisecond,
	})
	require.NoError(t, err)

	coord, err := coordinator.New(&coordinator.Config{
		API:      provider,
		Limiter:  limiter,
		Cache:    stateCache,
		Interval: time.Hour,
	})
	require.NoError(t, err)

	disp, err := dispatcher.New(&dispatcher.Config{
		API:     provider,
		Limiter: limiter,
		Cache:   stateCache,
	})
	require.NoError(t, err)

	svc, err := NewProxyService(stateCache, coord, disp)
	require.NoError(t, err)
	return svc, stateCache
}

func seed(t *testing.T, c *cache.StateCache) {
	t.Helper()
	provider := &fullFakeProvider{}
	proxies, err := provider.GetProxies(context.Background())
	require.NoError(t, err)
	account, err := provider.GetBalance(context.Background())
	require.NoError(t, err)
	c.ApplyPoll(account, proxies, time.Now().Add(-time.Second))
}

func TestNewProxyService(t *testing.T) {
	_, err := NewProxyService(nil, nil, nil)
	assert.Error(t, err)
}

func TestReadsComeFromTheCache(t *testing.T) {
	svc, stateCache := newService(t)

	// Nothing polled yet: reads serve the empty cache rather than
	// calling the provider.
	assert.Empty(t, svc.ListProxies())
	assert.Zero(t, svc.GetAccount().Balance)

	seed(t, stateCache)

	account := svc.GetAccount()
	assert.Equal(t, 42.50, account.Balance)
	assert.Equal(t, 1, account.ProxyCount)

	proxies := svc.ListProxies()
	require.Len(t, proxies, 1)
	assert.Equal(t, "p1", proxies[0].ID)

	rec, err := svc.GetProxy("p1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, *rec.BandwidthRemainingGB)

	_, err = svc.GetProxy("ghost")
	require.Error(t, err)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestCommandsFlowThroughTheDispatcher(t *testing.T) {
	svc, stateCache := newService(t)
	seed(t, stateCache)

	result := svc.BuyBandwidth(context.Background(), "p1", 5)
	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.Equal(t, models.CommandBuyBandwidth, result.Kind)

	rec, err := svc.GetProxy("p1")
	require.NoError(t, err)
	assert.Equal(t, 11.0, *rec.BandwidthRemainingGB)

	result = svc.SetAutoExtend(context.Background(), "p1", true)
	require.NoError(t, result.Err)

	rec, err = svc.GetProxy("p1")
	require.NoError(t, err)
	assert.True(t, rec.AutoExtendEnabled)
}

func TestStatusReflectsCoordinatorState(t *testing.T) {
	svc, _ := newService(t)
	assert.Equal(t, coordinator.StateIdle, svc.Status())
}
