package provider

import (
	"encoding/json"
	"strings"
	"time"

	apierrors "github.com/manjotsc/ha-proxy-cheap/internal/errors"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// Wire types mirror the provider's JSON shapes. They are the sole
// translator between the remote payloads and the local model; nothing
// outside this package sees provider field names.

type wireBalance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type wireConnection struct {
	PublicIP   string `json:"publicIp"`
	ConnectIP  string `json:"connectIp"`
	IPVersion  string `json:"ipVersion"`
	HTTPPort   int    `json:"httpPort"`
	HTTPSPort  int    `json:"httpsPort"`
	SOCKS5Port int    `json:"socks5Port"`
}

type wireAuthentication struct {
	Username       string   `json:"username"`
	WhitelistedIPs []string `json:"whitelistedIps"`
}

type wireBandwidth struct {
	// Total is nil for unlimited plans; Used may be nil for fresh proxies.
	Total *float64 `json:"total"`
	Used  *float64 `json:"used"`
}

type wireProxy struct {
	ID                json.Number        `json:"id"`
	ProxyType         string             `json:"proxyType"`
	NetworkType       string             `json:"networkType"`
	CountryCode       string             `json:"countryCode"`
	Region            string             `json:"region"`
	City              string             `json:"city"`
	Status            string             `json:"status"`
	ExpiresAt         string             `json:"expiresAt"`
	CreatedAt         string             `json:"createdAt"`
	AutoExtendEnabled bool               `json:"autoExtendEnabled"`
	Connection        wireConnection     `json:"connection"`
	Authentication    wireAuthentication `json:"authentication"`
	Bandwidth         wireBandwidth      `json:"bandwidth"`
}

type wireProxyListEnvelope struct {
	Proxies []wireProxy `json:"proxies"`
	Data    []wireProxy `json:"data"`
}

// decodeProxyList accepts the proxy list as a bare array or wrapped in a
// "proxies"/"data" envelope, both of which the provider has returned.
func decodeProxyList(body json.RawMessage) ([]wireProxy, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var list []wireProxy
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, apierrors.NewMalformedError("failed to parse proxy list", err)
		}
		return list, nil
	}

	var envelope wireProxyListEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apierrors.NewMalformedError("failed to parse proxy list envelope", err)
	}
	if envelope.Proxies != nil {
		return envelope.Proxies, nil
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return nil, apierrors.NewMalformedError("proxy list response has no recognizable payload", nil)
}

// timestampLayouts are the formats the provider has been observed to emit.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalize converts a wire proxy into the local record shape.
func (w wireProxy) normalize() (models.ProxyRecord, error) {
	if w.ID.String() == "" {
		return models.ProxyRecord{}, apierrors.NewMalformedError("proxy record is missing an identifier", nil)
	}

	expiresAt, ok := parseTimestamp(w.ExpiresAt)
	if !ok {
		return models.ProxyRecord{}, apierrors.NewMalformedError("unparseable expiry timestamp: "+w.ExpiresAt, nil)
	}
	createdAt, ok := parseTimestamp(w.CreatedAt)
	if !ok {
		// Creation time is informational only; tolerate odd formats.
		createdAt = time.Time{}
	}

	protocol := models.Protocol(strings.ToUpper(w.ProxyType))
	port := w.portFor(protocol)

	status := strings.ToLower(w.Status)
	if status == "" {
		status = models.StatusUnknown
	}

	rec := models.ProxyRecord{
		ID:                w.ID.String(),
		IPAddress:         w.ipAddress(),
		Port:              port,
		Username:          w.Authentication.Username,
		Protocol:          protocol,
		NetworkType:       models.NetworkType(strings.ToUpper(w.NetworkType)),
		CountryCode:       w.CountryCode,
		Region:            w.Region,
		City:              w.City,
		ExpiresAt:         expiresAt,
		CreatedAt:         createdAt,
		Active:            status == models.StatusActive,
		AutoExtendEnabled: w.AutoExtendEnabled,
		Status:            status,
		WhitelistedIPs:    w.Authentication.WhitelistedIPs,
	}

	// A nil total means unlimited bandwidth; remaining stays nil too.
	rec.BandwidthTotalGB = w.Bandwidth.Total
	rec.BandwidthUsedGB = w.Bandwidth.Used
	if w.Bandwidth.Total != nil {
		used := 0.0
		if w.Bandwidth.Used != nil {
			used = *w.Bandwidth.Used
		}
		remaining := *w.Bandwidth.Total - used
		rec.BandwidthRemainingGB = &remaining
	}

	return rec, nil
}

func (w wireProxy) ipAddress() string {
	if w.Connection.PublicIP != "" {
		return w.Connection.PublicIP
	}
	return w.Connection.ConnectIP
}

// portFor picks the connection port matching the rented protocol, falling
// back to whichever port the provider populated.
func (w wireProxy) portFor(protocol models.Protocol) int {
	switch protocol {
	case models.ProtocolHTTP:
		if w.Connection.HTTPPort != 0 {
			return w.Connection.HTTPPort
		}
	case models.ProtocolHTTPS:
		if w.Connection.HTTPSPort != 0 {
			return w.Connection.HTTPSPort
		}
	case models.ProtocolSOCKS5:
		if w.Connection.SOCKS5Port != 0 {
			return w.Connection.SOCKS5Port
		}
	}
	for _, p := range []int{w.Connection.HTTPPort, w.Connection.HTTPSPort, w.Connection.SOCKS5Port} {
		if p != 0 {
			return p
		}
	}
	return 0
}
