package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	src := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", src, 0))
	src[0] = 'x'

	val, _, _ := c.Get(ctx, "k")
	val[1] = 'y'

	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemory_TTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found)

	time.Sleep(80 * time.Millisecond)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemory_NoTTLNeverExpires(t *testing.T) {
	c := NewMemoryCache(WithCleanupInterval(5 * time.Millisecond))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	time.Sleep(30 * time.Millisecond)

	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found)
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "missing"))

	_, found, _ := c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemory_IncrWithExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, _, err := c.IncrWithExpiry(ctx, "counter", 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	time.Sleep(80 * time.Millisecond)

	got, _, err := c.IncrWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestMemory_IncrKeepsWindow(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	before := time.Now()
	_, first, err := c.IncrWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(time.Minute), first, time.Second)

	// Later increments report the same reset time instead of pushing it out.
	time.Sleep(10 * time.Millisecond)
	got, second, err := c.IncrWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
	assert.True(t, first.Equal(second), "reset moved from %v to %v", first, second)
}

func TestMemory_IncrWindowRestartsAfterExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, first, err := c.IncrWithExpiry(ctx, "counter", 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	got, second, err := c.IncrWithExpiry(ctx, "counter", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
	assert.True(t, second.After(first))
}

func TestMemory_CounterReadsAsDecimal(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, err := c.IncrWithExpiry(ctx, "counter", time.Minute)
		require.NoError(t, err)
	}

	val, found, err := c.Get(ctx, "counter")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "4", string(val))
}

func TestMemory_IncrOnNonNumeric(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("not-a-number"), 0))
	_, _, err := c.IncrWithExpiry(ctx, "k", time.Minute)
	assert.Error(t, err)
}

func TestMemory_JanitorPurgesExpired(t *testing.T) {
	c := NewMemoryCache(WithCleanupInterval(5 * time.Millisecond))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "forever", []byte("3"), 0))

	assert.Eventually(t, func() bool { return c.Len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMemory_CloseDropsEntries(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
}

var _ Cache = (*MemoryCache)(nil)
var _ Cache = (*RedisCache)(nil)
