package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/cadence/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a Redis 7 container (EXPIRE NX needs 7.0) and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return "redis://" + host + ":" + port.Port()
}

// runCacheSuite checks the behaviour every Cache implementation shares.
// Keys are randomised so one Redis can serve every subtest.
func runCacheSuite(t *testing.T, c cache.Cache) {
	ctx := context.Background()
	key := func(name string) string { return name + ":" + uuid.NewString()[:8] }

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, c.Ping(ctx))
	})

	t.Run("SetGet", func(t *testing.T) {
		k := key("snapshot")
		require.NoError(t, c.Set(ctx, k, []byte(`{"progress":40}`), time.Minute))

		val, found, err := c.Get(ctx, k)
		require.NoError(t, err)
		assert.True(t, found)
		assert.JSONEq(t, `{"progress":40}`, string(val))
	})

	t.Run("GetMissing", func(t *testing.T) {
		val, found, err := c.Get(ctx, key("missing"))
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
	})

	t.Run("Delete", func(t *testing.T) {
		k := key("del")
		require.NoError(t, c.Set(ctx, k, []byte("bye"), time.Minute))
		require.NoError(t, c.Delete(ctx, k))

		_, found, err := c.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, found)

		assert.NoError(t, c.Delete(ctx, key("never-set")))
	})

	t.Run("IncrWithExpiry", func(t *testing.T) {
		k := key("ratelimit")
		before := time.Now()
		var firstReset time.Time
		for want := int64(1); want <= 3; want++ {
			got, resetAt, err := c.IncrWithExpiry(ctx, k, 10*time.Second)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.WithinDuration(t, before.Add(10*time.Second), resetAt, time.Second)
			if want == 1 {
				firstReset = resetAt
			}
		}
		// The window stays anchored at the first increment.
		_, resetAt, err := c.IncrWithExpiry(ctx, k, 10*time.Second)
		require.NoError(t, err)
		assert.WithinDuration(t, firstReset, resetAt, 50*time.Millisecond)
	})
}

// --- MemoryCache ---

func TestMemoryCache_Suite(t *testing.T) {
	runCacheSuite(t, cache.NewMemoryCache())
}

// --- RedisCache (integration) ---

func TestRedisCache_Suite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc, err := cache.NewRedisCache(startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	runCacheSuite(t, rc)
}

func TestRedisCache_ExpiryAndPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := startRedis(t)
	ctx := context.Background()

	a, err := cache.NewRedisCache(url, cache.WithKeyPrefix("a:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := cache.NewRedisCache(url, cache.WithKeyPrefix("b:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	// Prefixes keep namespaces apart.
	require.NoError(t, a.Set(ctx, "shared", []byte("from a"), time.Minute))
	_, found, err := b.Get(ctx, "shared")
	require.NoError(t, err)
	assert.False(t, found)

	// TTLs expire.
	require.NoError(t, a.Set(ctx, "temp", []byte("x"), time.Second))
	time.Sleep(1500 * time.Millisecond)
	_, found, err = a.Get(ctx, "temp")
	require.NoError(t, err)
	assert.False(t, found)

	// The counter window is fixed at the first increment.
	_, _, err = a.IncrWithExpiry(ctx, "window", 2*time.Second)
	require.NoError(t, err)
	time.Sleep(time.Second)
	n, _, err := a.IncrWithExpiry(ctx, "window", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	time.Sleep(1500 * time.Millisecond)
	n, _, err = a.IncrWithExpiry(ctx, "window", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := cache.NewRedisCache("http://not-redis")
	assert.Error(t, err)
}

// --- Cache Key Builders ---

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "generation:gen_1700000000000_abcd1234", cache.SnapshotKey("gen_1700000000000_abcd1234"))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:10.0.0.1", cache.RateLimitKey("10.0.0.1"))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	assert.NotEqual(t, cache.SnapshotKey("x"), cache.RateLimitKey("x"))
}
