package models

import "time"

// Protocol is the connection protocol a proxy is rented for.
type Protocol string

const (
	ProtocolHTTP   Protocol = "HTTP"
	ProtocolHTTPS  Protocol = "HTTPS"
	ProtocolSOCKS5 Protocol = "SOCKS5"
)

// NetworkType describes the kind of network a proxy egresses from.
type NetworkType string

const (
	NetworkResidential       NetworkType = "RESIDENTIAL"
	NetworkResidentialStatic NetworkType = "RESIDENTIAL_STATIC"
	NetworkDatacenter        NetworkType = "DATACENTER"
	NetworkMobile            NetworkType = "MOBILE"
)

// Proxy status values as reported by the provider (normalized to lowercase).
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusSuspended = "suspended"
	StatusUnknown   = "unknown"
)

// ProxyRecord is a single rented proxy endpoint and its billing/usage
// metadata. Identity is the provider-assigned ID; every other field is
// overwritten on each successful poll.
type ProxyRecord struct {
	ID          string      `json:"id"`
	IPAddress   string      `json:"ipAddress"`
	Port        int         `json:"port"`
	Username    string      `json:"username"`
	Protocol    Protocol    `json:"protocol"`
	NetworkType NetworkType `json:"networkType"`
	CountryCode string      `json:"countryCode"`
	Region      string      `json:"region"`
	City        string      `json:"city,omitempty"`

	// Bandwidth accounting in GB. A nil total means the plan is unlimited;
	// remaining is nil exactly when total is nil.
	BandwidthTotalGB     *float64 `json:"bandwidthTotalGb"`
	BandwidthUsedGB      *float64 `json:"bandwidthUsedGb"`
	BandwidthRemainingGB *float64 `json:"bandwidthRemainingGb"`

	ExpiresAt         time.Time `json:"expiresAt"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
	Active            bool      `json:"active"`
	AutoExtendEnabled bool      `json:"autoExtendEnabled"`
	Status            string    `json:"status"`
	WhitelistedIPs    []string  `json:"whitelistedIps,omitempty"`
}

// BandwidthUnlimited reports whether the proxy has no bandwidth cap.
func (p *ProxyRecord) BandwidthUnlimited() bool {
	return p.BandwidthTotalGB == nil
}

// Authentication methods a proxy can be rented with.
const (
	AuthIPWhitelist      = "ip_whitelist"
	AuthUsernamePassword = "username_password"
)

// AuthMethod derives how clients authenticate against the proxy: an IP
// whitelist when one is configured, credentials otherwise.
func (p *ProxyRecord) AuthMethod() string {
	if len(p.WhitelistedIPs) > 0 {
		return AuthIPWhitelist
	}
	return AuthUsernamePassword
}

// Equal reports whether two records carry identical field values.
// Used by the cache to classify a re-polled record as changed or not.
func (p ProxyRecord) Equal(o ProxyRecord) bool {
	if p.ID != o.ID ||
		p.IPAddress != o.IPAddress ||
		p.Port != o.Port ||
		p.Username != o.Username ||
		p.Protocol != o.Protocol ||
		p.NetworkType != o.NetworkType ||
		p.CountryCode != o.CountryCode ||
		p.Region != o.Region ||
		p.City != o.City ||
		!p.ExpiresAt.Equal(o.ExpiresAt) ||
		!p.CreatedAt.Equal(o.CreatedAt) ||
		p.Active != o.Active ||
		p.AutoExtendEnabled != o.AutoExtendEnabled ||
		p.Status != o.Status {
		return false
	}
	if !floatPtrEqual(p.BandwidthTotalGB, o.BandwidthTotalGB) ||
		!floatPtrEqual(p.BandwidthUsedGB, o.BandwidthUsedGB) ||
		!floatPtrEqual(p.BandwidthRemainingGB, o.BandwidthRemainingGB) {
		return false
	}
	if len(p.WhitelistedIPs) != len(o.WhitelistedIPs) {
		return false
	}
	for i := range p.WhitelistedIPs {
		if p.WhitelistedIPs[i] != o.WhitelistedIPs[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to readers.
func (p ProxyRecord) Clone() ProxyRecord {
	c := p
	c.BandwidthTotalGB = cloneFloatPtr(p.BandwidthTotalGB)
	c.BandwidthUsedGB = cloneFloatPtr(p.BandwidthUsedGB)
	c.BandwidthRemainingGB = cloneFloatPtr(p.BandwidthRemainingGB)
	if p.WhitelistedIPs != nil {
		c.WhitelistedIPs = append([]string(nil), p.WhitelistedIPs...)
	}
	return c
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// FieldUpdates is a sparse set of mutable ProxyRecord fields produced by a
// successful command. Only non-nil fields are merged into the cached record.
type FieldUpdates struct {
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	BandwidthTotalGB     *float64   `json:"bandwidthTotalGb,omitempty"`
	BandwidthRemainingGB *float64   `json:"bandwidthRemainingGb,omitempty"`
	AutoExtendEnabled    *bool      `json:"autoExtendEnabled,omitempty"`
	WhitelistedIPs       []string   `json:"whitelistedIps,omitempty"`
}

// Empty reports whether the update set carries no changes.
func (u FieldUpdates) Empty() bool {
	return u.ExpiresAt == nil &&
		u.BandwidthTotalGB == nil &&
		u.BandwidthRemainingGB == nil &&
		u.AutoExtendEnabled == nil &&
		u.WhitelistedIPs == nil
}
