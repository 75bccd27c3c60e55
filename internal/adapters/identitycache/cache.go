// Package identitycache remembers which phone number a gateway resolved for a
// privacy id, so repeated events from the same ad-referred contact skip the
// gateway round trip.
package identitycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inbox_backend/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lid:"

// Cache is a Redis-backed privacy id to phone number map.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to the Redis instance configured for the cache.
func New(cfg config.IdentityCacheConfig) (*Cache, error) {
	if !cfg.IsIdentityCacheEnabled() {
		return nil, errors.New("identity cache not configured")
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opt), cfg.GetIdentityCacheTTL()), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(instanceID uuid.UUID, privacyID string) string {
	return keyPrefix + instanceID.String() + ":" + privacyID
}

// Get returns the cached phone for privacyID. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, instanceID uuid.UUID, privacyID string) (string, bool, error) {
	val, err := c.client.Get(ctx, key(instanceID, privacyID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores the resolved phone for privacyID with the configured TTL.
func (c *Cache) Set(ctx context.Context, instanceID uuid.UUID, privacyID, phone string) error {
	return c.client.Set(ctx, key(instanceID, privacyID), phone, c.ttl).Err()
}

// Ping reports whether Redis answers.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
