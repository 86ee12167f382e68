package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/manjotsc/ha-proxy-cheap/internal/coordinator"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// commandResponse is the wire form of a CommandResult.
type commandResponse struct {
	RequestID string               `json:"requestId"`
	ProxyID   string               `json:"proxyId"`
	Kind      models.CommandKind   `json:"kind"`
	Success   bool                 `json:"success"`
	Updates   *models.FieldUpdates `json:"updates,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"sync":   string(s.service.Status()),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.service.Refresh()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

// requireAuthenticated rejects reads while the integration is in the
// terminal auth-failed state, marking the whole surface unavailable
// rather than serving empty data as if it were real.
func (s *Server) requireAuthenticated(w http.ResponseWriter) bool {
	if s.service.Status() == coordinator.StateAuthFailed {
		respondError(w, http.StatusServiceUnavailable, "AUTH_FAILED",
			"Provider authentication failed; update credentials to resume", nil)
		return false
	}
	return true
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuthenticated(w) {
		return
	}
	respondJSON(w, http.StatusOK, s.service.GetAccount())
}

func (s *Server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuthenticated(w) {
		return
	}
	proxies := s.service.ListProxies()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"proxies": proxies,
		"count":   len(proxies),
	})
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuthenticated(w) {
		return
	}
	rec, err := s.service.GetProxy(mux.Vars(r)["id"])
	if err != nil {
		respondCategorized(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Months int `json:"months"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	s.respondCommand(w, s.service.ExtendProxy(r.Context(), mux.Vars(r)["id"], body.Months))
}

func (s *Server) handleBuyBandwidth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AmountGB float64 `json:"amountGb"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	s.respondCommand(w, s.service.BuyBandwidth(r.Context(), mux.Vars(r)["id"], body.AmountGB))
}

func (s *Server) handleUpdateWhitelist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IPs []string `json:"ips"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	s.respondCommand(w, s.service.UpdateWhitelist(r.Context(), mux.Vars(r)["id"], body.IPs))
}

func (s *Server) handleSetAutoExtend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	s.respondCommand(w, s.service.SetAutoExtend(r.Context(), mux.Vars(r)["id"], body.Enabled))
}

func (s *Server) handleUpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey    string `json:"apiKey"`
		APISecret string `json:"apiSecret"`
	}
	if err := parseJSONBody(r, &body); err != nil || body.APIKey == "" || body.APISecret == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "apiKey and apiSecret are required", nil)
		return
	}
	s.service.UpdateCredentials(body.APIKey, body.APISecret)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "credentials updated"})
}

func (s *Server) respondCommand(w http.ResponseWriter, result models.CommandResult) {
	if result.Err != nil {
		respondCategorized(w, result.Err)
		return
	}

	resp := commandResponse{
		RequestID: result.RequestID,
		ProxyID:   result.ProxyID,
		Kind:      result.Kind,
		Success:   result.Success,
	}
	if !result.Updates.Empty() {
		resp.Updates = &result.Updates
	}
	respondJSON(w, http.StatusOK, resp)
}
