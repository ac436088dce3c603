// Package cache keeps wallet snapshots in Redis to take read pressure off
// the primary store. Writers invalidate eagerly after every committed
// mutation; the TTL bounds staleness when an invalidation is lost.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"custodia/internal/platform/redis"
	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// SnapshotCache stores serialized wallet aggregates keyed by wallet ID.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a cache over the given client. A nil client yields a nil
// cache; all methods are nil-safe so callers need no guards.
func New(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if client == nil {
		return nil
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func key(id domain.WalletID) string {
	return "custodia:wallet:" + id.String()
}

// Get returns the cached snapshot or sentinel.ErrNotFound on a miss.
func (c *SnapshotCache) Get(ctx context.Context, id domain.WalletID) (*models.Wallet, error) {
	if c == nil {
		return nil, sentinel.ErrNotFound
	}
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var wallet models.Wallet
	if err := json.Unmarshal(raw, &wallet); err != nil {
		// Treat undecodable entries as a miss; the writer refreshes them.
		return nil, sentinel.ErrNotFound
	}
	return &wallet, nil
}

// Set stores a snapshot with the configured TTL.
func (c *SnapshotCache) Set(ctx context.Context, wallet *models.Wallet) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, key(wallet.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the snapshot after a mutation commits.
func (c *SnapshotCache) Invalidate(ctx context.Context, id domain.WalletID) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
