// Package storage provides the optional Redis snapshot mirror. The mirror
// holds only the current account and proxy snapshot from the latest
// successful poll; the in-memory cache stays authoritative and no
// historical series is kept.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manjotsc/ha-proxy-cheap/internal/config"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// Mirror key names.
const (
	KeyAccount = "proxycheap:account"
	KeyProxies = "proxycheap:proxies"
)

// SnapshotMirror publishes poll snapshots to Redis for out-of-process
// consumers.
type SnapshotMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotMirror creates a new mirror connection.
func NewSnapshotMirror(cfg *config.RedisConfig, pollInterval time.Duration) (*SnapshotMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Keys outlive two missed polls, then expire rather than serve data
	// from a dead process.
	ttl := 3 * pollInterval

	return &SnapshotMirror{client: client, ttl: ttl}, nil
}

// NewSnapshotMirrorWithClient wraps an existing client. Used in tests.
func NewSnapshotMirrorWithClient(client *redis.Client, ttl time.Duration) *SnapshotMirror {
	return &SnapshotMirror{client: client, ttl: ttl}
}

// Close closes the Redis connection.
func (m *SnapshotMirror) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable.
func (m *SnapshotMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// PublishSnapshot writes the current account and proxy snapshot. Called by
// the coordinator after each successful poll; never on optimistic command
// updates, which the next confirmed poll propagates.
func (m *SnapshotMirror) PublishSnapshot(ctx context.Context, account models.AccountSnapshot, proxies []models.ProxyRecord) error {
	acctJSON, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account snapshot: %w", err)
	}
	proxiesJSON, err := json.Marshal(proxies)
	if err != nil {
		return fmt.Errorf("failed to marshal proxy snapshot: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, KeyAccount, acctJSON, m.ttl)
	pipe.Set(ctx, KeyProxies, proxiesJSON, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// ReadAccount reads the mirrored account snapshot.
func (m *SnapshotMirror) ReadAccount(ctx context.Context) (models.AccountSnapshot, error) {
	var account models.AccountSnapshot
	raw, err := m.client.Get(ctx, KeyAccount).Result()
	if err != nil {
		return account, err
	}
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return account, fmt.Errorf("failed to unmarshal account snapshot: %w", err)
	}
	return account, nil
}

// ReadProxies reads the mirrored proxy snapshot.
func (m *SnapshotMirror) ReadProxies(ctx context.Context) ([]models.ProxyRecord, error) {
	raw, err := m.client.Get(ctx, KeyProxies).Result()
	if err != nil {
		return nil, err
	}
	var proxies []models.ProxyRecord
	if err := json.Unmarshal([]byte(raw), &proxies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proxy snapshot: %w", err)
	}
	return proxies, nil
}
