package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, config Config, remote RemoteStore) *KeyedCache[string] {
	t.Helper()
	return New[string](config, remote, zap.NewNop())
}

func TestKeyedCacheSetGet(t *testing.T) {
	c := newTestCache(t, DefaultConfig("test"), nil)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", time.Minute)

	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	_, ok = c.Get(ctx, "unknown")
	assert.False(t, ok)
}

func TestKeyedCacheTTLExpiry(t *testing.T) {
	c := newTestCache(t, DefaultConfig("test"), nil)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", 20*time.Millisecond)

	_, ok := c.Get(ctx, "k1")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get(ctx, "k1")
	assert.False(t, ok, "entry must be absent after TTL")
	assert.Zero(t, c.Size(), "expired entry is removed lazily on access")
}

func TestKeyedCacheZeroTTLUsesDefault(t *testing.T) {
	config := DefaultConfig("test")
	config.DefaultTTL = time.Hour
	c := newTestCache(t, config, nil)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", 0)

	_, ok := c.Get(ctx, "k1")
	assert.True(t, ok)
}

func TestKeyedCacheEvictionBound(t *testing.T) {
	config := DefaultConfig("test")
	config.MaxEntries = 3
	c := newTestCache(t, config, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), "v", time.Minute)
		assert.LessOrEqual(t, c.Size(), 3, "bound must hold after every set")
	}

	// The three newest survive; everything older was evicted in write order.
	for i := 0; i < 7; i++ {
		_, ok := c.Get(ctx, fmt.Sprintf("k%d", i))
		assert.False(t, ok, "k%d should have been evicted", i)
	}
	for i := 7; i < 10; i++ {
		_, ok := c.Get(ctx, fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should survive", i)
	}
}

func TestKeyedCacheResetRefreshesWriteTime(t *testing.T) {
	config := DefaultConfig("test")
	config.MaxEntries = 2
	c := newTestCache(t, config, nil)
	ctx := context.Background()

	c.Set(ctx, "a", "v", time.Minute)
	c.Set(ctx, "b", "v", time.Minute)
	c.Set(ctx, "a", "v2", time.Minute) // refresh: "b" is now oldest
	c.Set(ctx, "c", "v", time.Minute)  // evicts "b"

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok)
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestKeyedCacheDeleteAndClear(t *testing.T) {
	c := newTestCache(t, DefaultConfig("test"), nil)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", time.Minute)
	c.Set(ctx, "k2", "v2", time.Minute)

	c.Delete(ctx, "k1")
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Zero(t, c.Size())
}

func TestKeyedCacheStats(t *testing.T) {
	c := newTestCache(t, DefaultConfig("test"), nil)
	ctx := context.Background()

	stats := c.Stats()
	assert.Zero(t, stats.HitRate, "hit rate is 0 when no lookups happened")

	c.Set(ctx, "k1", "v1", time.Minute)
	c.Get(ctx, "k1")
	c.Get(ctx, "k1")
	c.Get(ctx, "missing")

	stats = c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

// failingStore simulates a permanently unreachable remote tier.
type failingStore struct {
	pings int
}

var errRemoteDown = errors.New("remote store unreachable")

func (s *failingStore) Ping(context.Context) error { s.pings++; return errRemoteDown }
func (s *failingStore) Get(context.Context, string) ([]byte, time.Duration, error) {
	return nil, 0, errRemoteDown
}
func (s *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errRemoteDown
}
func (s *failingStore) Delete(context.Context, string) error { return errRemoteDown }

func TestKeyedCacheDegradationTransparency(t *testing.T) {
	store := &failingStore{}
	c := newTestCache(t, DefaultConfig("test"), store)
	ctx := context.Background()

	// Every operation must succeed from the caller's point of view.
	c.Set(ctx, "k1", "v1", time.Minute)
	got, ok := c.Get(ctx, "k1")
	require.True(t, ok, "in-process copy serves reads while degraded")
	assert.Equal(t, "v1", got)

	assert.True(t, c.Degraded())
	assert.Equal(t, 1, store.pings, "failed ping is not retried")

	// fallbackCount grows monotonically with each fallback-served operation.
	last := c.Stats().FallbackCount
	assert.Positive(t, last)
	for i := 0; i < 5; i++ {
		c.Set(ctx, "k", "v", time.Minute)
		current := c.Stats().FallbackCount
		assert.Greater(t, current, last)
		last = current
	}
}

// recordingSink captures cache events for assertions.
type recordingSink struct {
	hits, misses, fallbacks, evictions int
}

func (s *recordingSink) RecordCacheHit(string)               { s.hits++ }
func (s *recordingSink) RecordCacheMiss(string)              { s.misses++ }
func (s *recordingSink) RecordCacheFallback(string)          { s.fallbacks++ }
func (s *recordingSink) RecordCacheEviction(_ string, n int) { s.evictions += n }

func TestKeyedCacheReportsToMetricsSink(t *testing.T) {
	config := DefaultConfig("test")
	config.MaxEntries = 2
	c := newTestCache(t, config, nil)
	sink := &recordingSink{}
	c.SetMetrics(sink)
	ctx := context.Background()

	c.Set(ctx, "a", "1", time.Minute)
	c.Set(ctx, "b", "2", time.Minute)
	c.Set(ctx, "c", "3", time.Minute)

	c.Get(ctx, "c")
	c.Get(ctx, "a")

	assert.Equal(t, 1, sink.hits)
	assert.Equal(t, 1, sink.misses, "a was evicted by the size bound")
	assert.Equal(t, 1, sink.evictions)
}

func TestKeyedCacheReportsFallbacksToMetricsSink(t *testing.T) {
	c := newTestCache(t, DefaultConfig("test"), &failingStore{})
	sink := &recordingSink{}
	c.SetMetrics(sink)
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	c.Get(ctx, "missing")

	assert.Equal(t, 2, sink.fallbacks)
}

func TestKeyedCacheRemoteRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(RedisConfig{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test", 100, zap.NewNop())
	config := DefaultConfig("test")
	ctx := context.Background()

	writer := New[string](config, store, zap.NewNop())
	writer.Set(ctx, "shared", "payload", time.Minute)

	// The remote write is fire-and-forget; wait for it to land.
	require.Eventually(t, func() bool {
		return mr.Exists("test:v:shared")
	}, time.Second, 5*time.Millisecond)

	// A second cache instance (fresh process) sees the entry via Redis.
	reader := New[string](config, store, zap.NewNop())
	got, ok := reader.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, "payload", got)
	assert.False(t, reader.Degraded())
}

func TestKeyedCacheRemoteTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(RedisConfig{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test", 100, zap.NewNop())
	ctx := context.Background()

	writer := New[string](DefaultConfig("test"), store, zap.NewNop())
	writer.Set(ctx, "k", "v", time.Minute)
	require.Eventually(t, func() bool {
		return mr.Exists("test:v:k")
	}, time.Second, 5*time.Millisecond)

	// Redis-side expiry: a fresh instance misses after the TTL elapses.
	mr.FastForward(2 * time.Minute)
	reader := New[string](DefaultConfig("test"), store, zap.NewNop())
	_, ok := reader.Get(ctx, "k")
	assert.False(t, ok)
}

// expiringStore serves one value with a fixed remaining TTL and counts
// reads.
type expiringStore struct {
	data []byte
	ttl  time.Duration
	gets int
}

func (s *expiringStore) Ping(context.Context) error { return nil }
func (s *expiringStore) Get(context.Context, string) ([]byte, time.Duration, error) {
	s.gets++
	return s.data, s.ttl, nil
}
func (s *expiringStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (s *expiringStore) Delete(context.Context, string) error                     { return nil }

func TestKeyedCacheBackfillHonorsRemoteTTL(t *testing.T) {
	store := &expiringStore{data: []byte(`"v"`), ttl: time.Millisecond}
	c := newTestCache(t, DefaultConfig("test"), store)
	ctx := context.Background()

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
	assert.Equal(t, 1, store.gets)

	// The local copy expires with the remote entry, not with DefaultTTL,
	// so the next read goes back to the store.
	time.Sleep(5 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 2, store.gets)
}

func TestKeyedCacheConcurrentSets(t *testing.T) {
	config := DefaultConfig("test")
	config.MaxEntries = 50
	c := newTestCache(t, config, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(ctx, fmt.Sprintf("g%d-k%d", g, i), "v", time.Minute)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 50, "eviction bound holds under concurrent writers")
}
