// Package cache holds the in-memory snapshot of account and proxy state.
// It is the single source of truth for all read access; the only writers
// are the sync coordinator (ApplyPoll) and the command dispatcher
// (ApplyCommandResult), serialized by one mutex.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// Diff describes how one poll changed the proxy set relative to the
// previous one. Identifier slices are sorted.
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the poll changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// StateCache is the in-memory account + proxy snapshot.
type StateCache struct {
	mu      sync.RWMutex
	account models.AccountSnapshot
	proxies map[string]models.ProxyRecord

	// fetchedAt is the poll timestamp that produced each cached record;
	// mutatedAt is the timestamp of the last optimistic command update.
	// Together they implement the newest-wins rule: a poll older than a
	// pending mutation keeps the mutated record, and a command result
	// older than the record's poll is discarded.
	fetchedAt map[string]time.Time
	mutatedAt map[string]time.Time
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{
		proxies:   make(map[string]models.ProxyRecord),
		fetchedAt: make(map[string]time.Time),
		mutatedAt: make(map[string]time.Time),
	}
}

// ApplyPoll replaces the cached state with the result of one full poll and
// returns the structural diff. A proxy absent from the poll is removed; a
// proxy with a pending mutation newer than the poll keeps its optimistically
// updated record until a fresher poll confirms or overrides it.
func (c *StateCache) ApplyPoll(account models.AccountSnapshot, proxies []models.ProxyRecord, polledAt time.Time) Diff {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]models.ProxyRecord, len(proxies))
	nextFetched := make(map[string]time.Time, len(proxies))

	var diff Diff
	for _, rec := range proxies {
		polled := rec.Clone()

		if mutated, ok := c.mutatedAt[rec.ID]; ok && mutated.After(polledAt) {
			// The poll predates an optimistic update; keep the local record.
			if existing, exists := c.proxies[rec.ID]; exists {
				next[rec.ID] = existing
				nextFetched[rec.ID] = c.fetchedAt[rec.ID]
				continue
			}
		}

		next[rec.ID] = polled
		nextFetched[rec.ID] = polledAt

		if prev, exists := c.proxies[rec.ID]; !exists {
			diff.Added = append(diff.Added, rec.ID)
		} else if !prev.Equal(polled) {
			diff.Changed = append(diff.Changed, rec.ID)
		}
	}

	for id := range c.proxies {
		if _, stillPresent := next[id]; !stillPresent {
			diff.Removed = append(diff.Removed, id)
			delete(c.mutatedAt, id)
		}
	}

	account.FetchedAt = polledAt
	account.ProxyCount = len(next)
	c.account = account
	c.proxies = next
	c.fetchedAt = nextFetched

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}

// ApplyCommandResult merges the named field updates into the matching
// record. It is a no-op when the proxy is unknown (the next poll will
// reconcile it) or when a later poll already superseded the mutation.
// Returns whether the cache was modified.
func (c *StateCache) ApplyCommandResult(proxyID string, updates models.FieldUpdates, mutatedAt time.Time) bool {
	if updates.Empty() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.proxies[proxyID]
	if !ok {
		return false
	}
	if fetched, ok := c.fetchedAt[proxyID]; ok && fetched.After(mutatedAt) {
		// Stale write: a fresher poll already applied for this proxy.
		return false
	}

	if updates.ExpiresAt != nil {
		rec.ExpiresAt = *updates.ExpiresAt
	}
	if updates.BandwidthTotalGB != nil {
		v := *updates.BandwidthTotalGB
		rec.BandwidthTotalGB = &v
	}
	if updates.BandwidthRemainingGB != nil {
		v := *updates.BandwidthRemainingGB
		rec.BandwidthRemainingGB = &v
	}
	if updates.AutoExtendEnabled != nil {
		rec.AutoExtendEnabled = *updates.AutoExtendEnabled
	}
	if updates.WhitelistedIPs != nil {
		rec.WhitelistedIPs = append([]string(nil), updates.WhitelistedIPs...)
	}

	c.proxies[proxyID] = rec
	c.mutatedAt[proxyID] = mutatedAt
	return true
}

// Read returns the account snapshot and all proxy records ordered by
// identifier. The returned records are copies; readers never observe a
// torn update.
func (c *StateCache) Read() (models.AccountSnapshot, []models.ProxyRecord) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account, c.sortedProxiesLocked()
}

// Account returns the current account snapshot.
func (c *StateCache) Account() models.AccountSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

// Proxies returns all proxy records ordered by identifier.
func (c *StateCache) Proxies() []models.ProxyRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedProxiesLocked()
}

// Proxy returns the record for one proxy, if present.
func (c *StateCache) Proxy(id string) (models.ProxyRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.proxies[id]
	if !ok {
		return models.ProxyRecord{}, false
	}
	return rec.Clone(), true
}

// Clear wipes all cached state. Called on a fatal authentication failure.
func (c *StateCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.account = models.AccountSnapshot{}
	c.proxies = make(map[string]models.ProxyRecord)
	c.fetchedAt = make(map[string]time.Time)
	c.mutatedAt = make(map[string]time.Time)
}

func (c *StateCache) sortedProxiesLocked() []models.ProxyRecord {
	out := make([]models.ProxyRecord, 0, len(c.proxies))
	for _, rec := range c.proxies {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
