// Package cache stores short-lived server state: rate-limit counters and
// generation snapshots. Redis backs it when configured; otherwise it lives in
// process memory.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is implemented by RedisCache and MemoryCache. Implementations must be
// safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	// IncrWithExpiry increments a counter and returns its new value and the
	// time it resets. The expiry is set when the counter is created and is not
	// extended by later increments.
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, time.Time, error)
	Close() error
}

// RedisCache is a Cache over go-redis/v9. Every key is stored under prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

type RedisOption func(*RedisCache)

// WithKeyPrefix namespaces keys so several services can share one database.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// NewRedisCache connects lazily to the server at redisURL. Keys are prefixed
// with "cadence:" unless WithKeyPrefix says otherwise.
func NewRedisCache(redisURL string, opts ...RedisOption) (*RedisCache, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	c := &RedisCache{client: redis.NewClient(parsed), prefix: "cadence:"}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// IncrWithExpiry runs INCR and EXPIRE NX in one transaction, giving a fixed
// window that starts with the first increment.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, time.Time, error) {
	k := c.key(key)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, expiry)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: %w", key, err)
	}
	var resetAt time.Time
	if remaining := pttl.Val(); remaining > 0 {
		resetAt = time.Now().Add(remaining)
	}
	return incr.Val(), resetAt, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
