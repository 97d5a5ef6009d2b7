// Package cache provides the Redis-backed idempotency seen-cache.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liker0704/telegram-signals-parisng/pkg/idempotency"
)

// DefaultSeenTTL bounds how long an admitted key is remembered.
const DefaultSeenTTL = 24 * time.Hour

// RedisSeenCache remembers admitted source events so duplicate deliveries can
// skip the pipeline without a store round-trip. Entries expire after ttl.
type RedisSeenCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSeenCache connects to redisURL.
func NewRedisSeenCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSeenCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisSeenCacheFromClient(client, ttl), nil
}

// NewRedisSeenCacheFromClient wraps an existing client.
func NewRedisSeenCacheFromClient(client *redis.Client, ttl time.Duration) *RedisSeenCache {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &RedisSeenCache{client: client, prefix: "relay:seen", ttl: ttl}
}

// seenKey returns the key for an admitted source event.
func (c *RedisSeenCache) seenKey(key idempotency.Key) string {
	return fmt.Sprintf("%s:%s:%d:%d", c.prefix, key.Kind, key.ChatID, key.MessageID)
}

// Seen implements idempotency.SeenCache.
func (c *RedisSeenCache) Seen(ctx context.Context, key idempotency.Key) (bool, error) {
	n, err := c.client.Exists(ctx, c.seenKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark implements idempotency.SeenCache.
func (c *RedisSeenCache) Mark(ctx context.Context, key idempotency.Key) error {
	return c.client.Set(ctx, c.seenKey(key), 1, c.ttl).Err()
}

// Ping checks the Redis connection.
func (c *RedisSeenCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisSeenCache) Close() error {
	return c.client.Close()
}

// Verify interface compliance at compile time.
var _ idempotency.SeenCache = (*RedisSeenCache)(nil)
