package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manjotsc/ha-proxy-cheap/internal/coordinator"
	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// mockService implements ProxyServiceInterface with scripted responses.
type mockService struct {
	status      coordinator.State
	account     models.AccountSnapshot
	proxies     []models.ProxyRecord
	getProxyErr error
	commandErr  error

	refreshed   int
	credentials []string
	lastCommand models.CommandRequest
}

func (m *mockService) Refresh() { m.refreshed++ }

func (m *mockService) Status() coordinator.State {
	if m.status == "" {
		return coordinator.StateIdle
	}
	return m.status
}

func (m *mockService) GetAccount() models.AccountSnapshot { return m.account }

func (m *mockService) ListProxies() []models.ProxyRecord { return m.proxies }

func (m *mockService) GetProxy(id string) (models.ProxyRecord, error) {
	if m.getProxyErr != nil {
		return models.ProxyRecord{}, m.getProxyErr
	}
	for _, p := range m.proxies {
		if p.ID == id {
			return p, nil
		}
	}
	return models.ProxyRecord{}, apierrors.NewNotFoundError("proxy", id)
}

func (m *mockService) command(id string, kind models.CommandKind) models.CommandResult {
	result := models.CommandResult{RequestID: "req-1", ProxyID: id, Kind: kind}
	if m.commandErr != nil {
		result.Err = m.commandErr
		return result
	}
	result.Success = true
	return result
}

func (m *mockService) ExtendProxy(ctx context.Context, id string, months int) models.CommandResult {
	m.lastCommand = models.CommandRequest{ProxyID: id, Kind: models.CommandExtend, Months: months}
	return m.command(id, models.CommandExtend)
}

func (m *mockService) BuyBandwidth(ctx context.Context, id string, amountGB float64) models.CommandResult {
	m.lastCommand = models.CommandRequest{ProxyID: id, Kind: models.CommandBuyBandwidth, AmountGB: amountGB}
	return m.command(id, models.CommandBuyBandwidth)
}

func (m *mockService) UpdateWhitelist(ctx context.Context, id string, ips []string) models.CommandResult {
	m.lastCommand = models.CommandRequest{ProxyID: id, Kind: models.CommandUpdateWhitelist, IPs: ips}
	return m.command(id, models.CommandUpdateWhitelist)
}

func (m *mockService) SetAutoExtend(ctx context.Context, id string, enabled bool) models.CommandResult {
	m.lastCommand = models.CommandRequest{ProxyID: id, Kind: models.CommandSetAutoExtend, AutoExtend: enabled}
	return m.command(id, models.CommandSetAutoExtend)
}

func (m *mockService) UpdateCredentials(apiKey, apiSecret string) {
	m.credentials = append(m.credentials, apiKey+":"+apiSecret)
}

func newTestServer(service ProxyServiceInterface) *Server {
	return NewServer(&ServerConfig{
		Host:            "127.0.0.1",
		Port:            "0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutdownTimeout: time.Second,
		RequestsPerSec:  1000,
	}, service)
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&mockService{})

	rr := doRequest(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["sync"])
}

func TestRefreshEndpoint(t *testing.T) {
	svc := &mockService{}
	server := newTestServer(svc)

	rr := doRequest(t, server, http.MethodPost, "/api/v1/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, svc.refreshed)
}

func TestGetAccountEndpoint(t *testing.T) {
	svc := &mockService{
		account: models.AccountSnapshot{Balance: 42.50, Currency: "USD", ProxyCount: 2},
	}
	server := newTestServer(svc)

	rr := doRequest(t, server, http.MethodGet, "/api/v1/account", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var account models.AccountSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &account))
	assert.Equal(t, 42.50, account.Balance)
	assert.Equal(t, 2, account.ProxyCount)
}

func TestListProxiesEndpoint(t *testing.T) {
	svc := &mockService{
		proxies: []models.ProxyRecord{
			{ID: "p1", IPAddress: "203.0.113.10", Port: 8080, Protocol: models.ProtocolHTTP},
			{ID: "p2", IPAddress: "203.0.113.11", Port: 1080, Protocol: models.ProtocolSOCKS5},
		},
	}
	server := newTestServer(svc)

	rr := doRequest(t, server, http.MethodGet, "/api/v1/proxies", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Proxies []models.ProxyRecord `json:"proxies"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Proxies, 2)
	assert.Equal(t, "p1", body.Proxies[0].ID)
}

func TestGetProxyEndpoint(t *testing.T) {
	svc := &mockService{
		proxies: []models.ProxyRecord{{ID: "p1", IPAddress: "203.0.113.10"}},
	}
	server := newTestServer(svc)

	t.Run("known proxy", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/proxies/p1", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var rec models.ProxyRecord
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
		assert.Equal(t, "p1", rec.ID)
	})

	t.Run("unknown proxy returns 404", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/proxies/ghost", nil)
		require.Equal(t, http.StatusNotFound, rr.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "NOT_FOUND", body.Error.Code)
	})
}

func TestAuthFailedMarksReadsUnavailable(t *testing.T) {
	svc := &mockService{status: coordinator.StateAuthFailed}
	server := newTestServer(svc)

	for _, path := range []string{"/api/v1/account", "/api/v1/proxies", "/api/v1/proxies/p1"} {
		rr := doRequest(t, server, http.MethodGet, path, nil)
		require.Equal(t, http.StatusServiceUnavailable, rr.Code, path)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "AUTH_FAILED", body.Error.Code)
	}
}

func TestCommandEndpoints(t *testing.T) {
	t.Run("extend", func(t *testing.T) {
		svc := &mockService{}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/proxies/p1/extend", map[string]int{"months": 3})
		require.Equal(t, http.StatusOK, rr.Code)

		assert.Equal(t, models.CommandExtend, svc.lastCommand.Kind)
		assert.Equal(t, 3, svc.lastCommand.Months)

		var body commandResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, "p1", body.ProxyID)
		assert.Nil(t, body.Updates)
	})

	t.Run("buy bandwidth", func(t *testing.T) {
		svc := &mockService{}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/proxies/p1/buy-bandwidth", map[string]float64{"amountGb": 5})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 5.0, svc.lastCommand.AmountGB)
	})

	t.Run("whitelist", func(t *testing.T) {
		svc := &mockService{}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/proxies/p1/whitelist",
			map[string][]string{"ips": {"198.51.100.7"}})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{"198.51.100.7"}, svc.lastCommand.IPs)
	})

	t.Run("auto extend", func(t *testing.T) {
		svc := &mockService{}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/proxies/p1/auto-extend", map[string]bool{"enabled": true})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, svc.lastCommand.AutoExtend)
	})

	t.Run("busy proxy returns 409", func(t *testing.T) {
		svc := &mockService{commandErr: apierrors.NewBusyError("p1")}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/proxies/p1/extend", map[string]int{"months": 1})
		require.Equal(t, http.StatusConflict, rr.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "BUSY", body.Error.Code)
	})

	t.Run("validation failure returns 400", func(t *testing.T) {
		svc := &mockService{commandErr: apierrors.NewValidationError("months", "must be at least 1")}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/proxies/p1/extend", map[string]int{"months": 0})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		server := newTestServer(&mockService{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/proxies/p1/extend", bytes.NewReader([]byte("{nope")))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestUpdateCredentialsEndpoint(t *testing.T) {
	t.Run("accepts a full credential pair", func(t *testing.T) {
		svc := &mockService{}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/credentials",
			map[string]string{"apiKey": "new-key", "apiSecret": "new-secret"})
		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, []string{"new-key:new-secret"}, svc.credentials)
	})

	t.Run("rejects a partial pair", func(t *testing.T) {
		svc := &mockService{}
		server := newTestServer(svc)

		rr := doRequest(t, server, http.MethodPost, "/api/v1/credentials", map[string]string{"apiKey": "only-key"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, svc.credentials)
	})
}
