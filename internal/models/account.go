package models

import "time"

// AccountSnapshot is the account-level state from the most recent
// successful poll. It is replaced wholesale each time.
type AccountSnapshot struct {
	Balance    float64   `json:"balance"`
	Currency   string    `json:"currency"`
	ProxyCount int       `json:"proxyCount"`
	FetchedAt  time.Time `json:"fetchedAt"`
}
