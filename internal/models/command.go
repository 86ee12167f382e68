package models

import "time"

// CommandKind identifies a mutating operation against a proxy.
type CommandKind string

const (
	CommandExtend          CommandKind = "extend"
	CommandBuyBandwidth    CommandKind = "buy_bandwidth"
	CommandUpdateWhitelist CommandKind = "update_whitelist"
	CommandSetAutoExtend   CommandKind = "set_auto_extend"
)

// CommandRequest is a user-issued mutating operation targeting one proxy.
// Exactly one of the parameter fields relevant to Kind is meaningful.
type CommandRequest struct {
	RequestID string      `json:"requestId"`
	ProxyID   string      `json:"proxyId"`
	Kind      CommandKind `json:"kind"`

	// Parameters per kind.
	Months     int      `json:"months,omitempty"`     // extend
	AmountGB   float64  `json:"amountGb,omitempty"`   // buy_bandwidth
	IPs        []string `json:"ips,omitempty"`        // update_whitelist
	AutoExtend bool     `json:"autoExtend,omitempty"` // set_auto_extend

	IssuedAt time.Time `json:"issuedAt"`
}

// CommandResult reports the outcome of a CommandRequest. On success,
// Updates holds the field changes already folded into the local cache.
type CommandResult struct {
	RequestID string       `json:"requestId"`
	ProxyID   string       `json:"proxyId"`
	Kind      CommandKind  `json:"kind"`
	Success   bool         `json:"success"`
	Updates   FieldUpdates `json:"updates,omitempty"`
	Err       error        `json:"-"`
}
