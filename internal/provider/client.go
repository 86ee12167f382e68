// Package provider implements the proxy-cheap API client. The client is a
// stateless request/response wrapper: it attaches credentials, parses JSON
// payloads into typed records and classifies transport/HTTP errors. Retry
// policy lives in the ratelimit package, never here.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/logging"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// API endpoints relative to the base URL.
const (
	endpointBalance           = "account/balance"
	endpointProxies           = "proxies"
	endpointProxy             = "proxies/%s"
	endpointWhitelist         = "proxies/%s/whitelist-ip"
	endpointExtend            = "proxies/%s/extend-period"
	endpointBuyBandwidth      = "proxies/%s/buy-bandwidth"
	endpointAutoExtendEnable  = "proxies/%s/auto-extend/enable"
	endpointAutoExtendDisable = "proxies/%s/auto-extend/disable"
)

// Client is the proxy-cheap API client.
type Client struct {
	// mu guards the credential pair: rotation via SetCredentials can race
	// in-flight polls and commands.
	mu        sync.RWMutex
	apiKey    string
	apiSecret string

	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds configuration for the API client.
type ClientConfig struct {
	APIKey    string
	APISecret string
	// BaseURL defaults to the production API endpoint.
	BaseURL string
	// Timeout bounds each request. Default: 30s.
	Timeout time.Duration
}

// NewClient creates a new API client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("api key and secret are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.proxy-cheap.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCredentials replaces the API credentials. Used when the operator
// re-authenticates after a credential failure. Safe to call while
// requests are in flight; each request reads a consistent pair.
func (c *Client) SetCredentials(apiKey, apiSecret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.apiSecret = apiSecret
}

// credentials returns the current pair under the read lock.
func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey, c.apiSecret
}

// request performs one authenticated call and returns the raw body.
// Errors are classified into the shared taxonomy; no retries happen here.
func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values) (json.RawMessage, error) {
	reqURL := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, apierrors.NewTransientError("failed to build request", err)
	}
	apiKey, apiSecret := c.credentials()
	req.Header.Set("X-Api-Key", apiKey)
	req.Header.Set("X-Api-Secret", apiSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, apierrors.NewTransientError(fmt.Sprintf("request to %s failed", endpoint), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.NewTransientError("failed to read response body", err)
	}

	if err := classifyStatus(resp, body, endpoint); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
	}).Debug("provider call completed")

	return body, nil
}

// classifyStatus maps an HTTP response to the error taxonomy.
func classifyStatus(resp *http.Response, body []byte, endpoint string) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apierrors.NewUnauthorizedError("invalid API credentials")
	case resp.StatusCode == http.StatusTooManyRequests:
		return apierrors.NewRateLimitedError(parseRetryAfter(resp))
	case resp.StatusCode == http.StatusNotFound:
		return apierrors.NewNotFoundError("endpoint", endpoint)
	case resp.StatusCode >= 500:
		return apierrors.NewTransientError(
			fmt.Sprintf("provider returned %d for %s", resp.StatusCode, endpoint), nil)
	case resp.StatusCode >= 400:
		return apierrors.NewValidationError(endpoint,
			fmt.Sprintf("provider rejected request with %d: %s", resp.StatusCode, truncate(body, 200)))
	}
	return nil
}

// parseRetryAfter extracts the provider's retry hint, zero when absent.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// GetBalance fetches the account balance.
func (c *Client) GetBalance(ctx context.Context) (models.AccountSnapshot, error) {
	body, err := c.request(ctx, http.MethodGet, endpointBalance, nil)
	if err != nil {
		return models.AccountSnapshot{}, err
	}

	var wire wireBalance
	if err := json.Unmarshal(body, &wire); err != nil {
		return models.AccountSnapshot{}, apierrors.NewMalformedError("failed to parse balance response", err)
	}

	currency := wire.Currency
	if currency == "" {
		currency = "USD"
	}
	return models.AccountSnapshot{
		Balance:  wire.Balance,
		Currency: currency,
	}, nil
}

// GetProxies fetches all proxies on the account. The provider has served
// both a bare array and an object wrapping it; both shapes are accepted.
func (c *Client) GetProxies(ctx context.Context) ([]models.ProxyRecord, error) {
	body, err := c.request(ctx, http.MethodGet, endpointProxies, nil)
	if err != nil {
		return nil, err
	}

	wires, err := decodeProxyList(body)
	if err != nil {
		return nil, err
	}

	records := make([]models.ProxyRecord, 0, len(wires))
	for _, w := range wires {
		rec, err := w.normalize()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetProxy fetches a single proxy by identifier.
func (c *Client) GetProxy(ctx context.Context, proxyID string) (models.ProxyRecord, error) {
	body, err := c.request(ctx, http.MethodGet, fmt.Sprintf(endpointProxy, url.PathEscape(proxyID)), nil)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return models.ProxyRecord{}, apierrors.NewNotFoundError("proxy", proxyID)
		}
		return models.ProxyRecord{}, err
	}

	var w wireProxy
	if err := json.Unmarshal(body, &w); err != nil {
		return models.ProxyRecord{}, apierrors.NewMalformedError("failed to parse proxy response", err)
	}
	return w.normalize()
}

// ExtendProxy extends a proxy's rental period by the given number of months.
func (c *Client) ExtendProxy(ctx context.Context, proxyID string, months int) error {
	params := url.Values{"months": {strconv.Itoa(months)}}
	_, err := c.request(ctx, http.MethodGet, fmt.Sprintf(endpointExtend, url.PathEscape(proxyID)), params)
	return remapProxyNotFound(err, proxyID)
}

// BuyBandwidth purchases additional bandwidth, in GB, for a proxy.
func (c *Client) BuyBandwidth(ctx context.Context, proxyID string, amountGB float64) error {
	params := url.Values{"amount": {strconv.FormatFloat(amountGB, 'f', -1, 64)}}
	_, err := c.request(ctx, http.MethodGet, fmt.Sprintf(endpointBuyBandwidth, url.PathEscape(proxyID)), params)
	return remapProxyNotFound(err, proxyID)
}

// UpdateWhitelist replaces the whitelisted IPs of a proxy.
func (c *Client) UpdateWhitelist(ctx context.Context, proxyID string, ips []string) error {
	var params url.Values
	if len(ips) > 0 {
		params = url.Values{"ips": {strings.Join(ips, ",")}}
	}
	_, err := c.request(ctx, http.MethodGet, fmt.Sprintf(endpointWhitelist, url.PathEscape(proxyID)), params)
	return remapProxyNotFound(err, proxyID)
}

// SetAutoExtend enables or disables automatic renewal for a proxy.
func (c *Client) SetAutoExtend(ctx context.Context, proxyID string, enabled bool) error {
	endpoint := endpointAutoExtendDisable
	if enabled {
		endpoint = endpointAutoExtendEnable
	}
	_, err := c.request(ctx, http.MethodPost, fmt.Sprintf(endpoint, url.PathEscape(proxyID)), nil)
	return remapProxyNotFound(err, proxyID)
}

// ValidateCredentials checks the configured credentials with a balance
// fetch. Returns false only on a definite auth failure; other errors are
// propagated so callers can distinguish outage from bad credentials.
func (c *Client) ValidateCredentials(ctx context.Context) (bool, error) {
	_, err := c.GetBalance(ctx)
	if err == nil {
		return true, nil
	}
	if apierrors.IsUnauthorized(err) {
		return false, nil
	}
	return false, err
}

// remapProxyNotFound turns an endpoint-level 404 into a proxy-level one.
func remapProxyNotFound(err error, proxyID string) error {
	if err != nil && apierrors.IsNotFound(err) {
		return apierrors.NewNotFoundError("proxy", proxyID)
	}
	return err
}
