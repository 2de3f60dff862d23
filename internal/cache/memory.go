package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const defaultCleanupInterval = time.Minute

// MemoryCache is an in-process Cache over go-cache. Expired entries are
// invisible to reads and removed by go-cache's janitor.
type MemoryCache struct {
	items *gocache.Cache
	// incr serialises counter read-modify-write; go-cache locks per call.
	incr sync.Mutex
}

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired entries are purged. Zero or
// less disables the janitor.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.cleanupInterval = d }
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := memoryConfig{cleanupInterval: defaultCleanupInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryCache{items: gocache.New(gocache.NoExpiration, cfg.cleanupInterval)}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.items.Set(key, append([]byte(nil), value...), expiration(ttl))
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	switch val := v.(type) {
	case []byte:
		return append([]byte(nil), val...), true, nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), true, nil
	default:
		return nil, false, fmt.Errorf("get %s: unexpected value type %T", key, v)
	}
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.items.Delete(key)
	return nil
}

// IncrWithExpiry increments an integer counter. A new counter expires after
// expiry; increments of a live counter keep its deadline.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, time.Time, error) {
	c.incr.Lock()
	defer c.incr.Unlock()

	if v, resetAt, ok := c.items.GetWithExpiration(key); ok {
		if _, isInt := v.(int64); !isInt {
			return 0, time.Time{}, fmt.Errorf("incr %s: value is not an integer", key)
		}
		// Fails only if the counter expired since the read above.
		if n, err := c.items.IncrementInt64(key, 1); err == nil {
			return n, resetAt, nil
		}
	}

	c.items.Set(key, int64(1), expiration(expiry))
	_, resetAt, _ := c.items.GetWithExpiration(key)
	return 1, resetAt, nil
}

// Len reports the number of stored entries, including expired ones the
// janitor has not purged yet.
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

// Close drops every entry.
func (c *MemoryCache) Close() error {
	c.items.Flush()
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}
