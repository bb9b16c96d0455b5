package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Remote tier health, decided lazily on first operation.
const (
	healthUnchecked int32 = iota
	healthHealthy
	healthDegraded
)

// MetricsSink receives cache events for export. Implementations must be
// safe for concurrent use.
type MetricsSink interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordCacheFallback(cache string)
	RecordCacheEviction(cache string, n int)
}

// Config configures a KeyedCache instance.
type Config struct {
	// Name labels the concern the cache serves ("retrieval", "tool_results").
	Name string `yaml:"name" json:"name"`

	// MaxEntries bounds the in-process copy. Enforced on every Set by
	// evicting the entries with the oldest write time.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// RemoteTimeout bounds every call to the remote tier.
	RemoteTimeout time.Duration `yaml:"remote_timeout" json:"remote_timeout"`
}

// DefaultConfig returns sensible defaults for the named concern.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		MaxEntries:    1000,
		DefaultTTL:    5 * time.Minute,
		RemoteTimeout: 250 * time.Millisecond,
	}
}

// Stats reports cache counters. Counters are monotonic for the process
// lifetime. FallbackCount counts operations served by the in-process copy
// because the remote tier failed, timed out, or is degraded/unconfigured.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	FallbackCount int64   `json:"fallback_count"`
	HitRate       float64 `json:"hit_rate"`
	Size          int     `json:"size"`
}

type cacheEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
	elem      *list.Element // position in the write-time index; Value is the key
}

// KeyedCache is a TTL cache with a bounded in-process copy and an optional
// remote tier. Get and Set never return remote faults to the caller: the
// in-process copy is authoritative within a process, the remote tier is
// best-effort shared state across processes.
type KeyedCache[T any] struct {
	config  Config
	remote  RemoteStore // nil means in-process only
	logger  *zap.Logger
	metrics MetricsSink // nil disables reporting; set before first use

	mu      sync.Mutex
	entries map[string]*cacheEntry[T]
	index   *list.List // front = oldest write, back = newest

	health    atomic.Int32
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	fallbacks atomic.Int64
}

// New creates a KeyedCache. remote may be nil, which forces in-process-only
// operation (used for local development and tests).
func New[T any](config Config, remote RemoteStore, logger *zap.Logger) *KeyedCache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig(config.Name).MaxEntries
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig(config.Name).DefaultTTL
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = DefaultConfig(config.Name).RemoteTimeout
	}
	return &KeyedCache[T]{
		config:  config,
		remote:  remote,
		logger:  logger.With(zap.String("component", "cache"), zap.String("cache", config.Name)),
		entries: make(map[string]*cacheEntry[T]),
		index:   list.New(),
	}
}

// SetMetrics attaches a sink for cache events. Call during wiring,
// before the cache serves traffic.
func (c *KeyedCache[T]) SetMetrics(sink MetricsSink) {
	c.metrics = sink
}

// Get returns the value for key. Expired entries are treated as absent and
// removed lazily. A healthy remote tier is probed on a local miss; remote
// hits are backfilled into the in-process copy.
func (c *KeyedCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if time.Now().Before(entry.expiresAt) {
			value := entry.value
			c.mu.Unlock()
			c.noteHit()
			return value, true
		}
		c.removeLocked(key, entry)
	}
	c.mu.Unlock()

	if c.remoteUsable(ctx) {
		rctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
		data, ttl, err := c.remote.Get(rctx, key)
		cancel()
		switch {
		case err == nil:
			var value T
			if uerr := json.Unmarshal(data, &value); uerr != nil {
				c.logger.Warn("remote entry undecodable, treating as miss",
					zap.String("key", key), zap.Error(uerr))
				break
			}
			// Backfill with the remote entry's remaining TTL so the local
			// copy expires in step with it.
			if ttl <= 0 {
				ttl = c.config.DefaultTTL
			}
			c.setLocal(key, value, ttl)
			c.noteHit()
			return value, true
		case IsCacheMiss(err):
			// Genuine miss, not a fault.
		default:
			c.noteRemoteFault("get", key, err)
		}
	} else if c.remote != nil || c.health.Load() == healthDegraded {
		c.noteFallback()
	}

	c.noteMiss()
	return zero, false
}

// Set stores value under key. The in-process copy is written synchronously,
// so a Get in the same process observes the value immediately. The remote
// write is fire-and-forget: a detached, timeout-bounded task whose failure
// is logged and counted, never raised.
func (c *KeyedCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.setLocal(key, value, ttl)

	if !c.remoteUsable(ctx) {
		if c.remote != nil || c.health.Load() == healthDegraded {
			c.noteFallback()
		}
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serializable, remote write skipped",
			zap.String("key", key), zap.Error(err))
		return
	}

	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), c.config.RemoteTimeout)
		defer cancel()
		if err := c.remote.Set(rctx, key, data, ttl); err != nil {
			c.noteRemoteFault("set", key, err)
		}
	}()
}

// Delete removes key from both tiers. Remote faults are swallowed.
func (c *KeyedCache[T]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.removeLocked(key, entry)
	}
	c.mu.Unlock()

	if c.remoteUsable(ctx) {
		rctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
		defer cancel()
		if err := c.remote.Delete(rctx, key); err != nil {
			c.noteRemoteFault("delete", key, err)
		}
	}
}

// Clear drops the in-process copy. Remote entries age out via their TTL;
// the remote tier exposes no namespace flush.
func (c *KeyedCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry[T])
	c.index.Init()
}

// Size returns the number of in-process entries, including any whose TTL
// has elapsed but which have not yet been lazily removed.
func (c *KeyedCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *KeyedCache[T]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Hits:          hits,
		Misses:        misses,
		Evictions:     c.evictions.Load(),
		FallbackCount: c.fallbacks.Load(),
		HitRate:       rate,
		Size:          c.Size(),
	}
}

// Degraded reports whether the cache is running without its remote tier.
func (c *KeyedCache[T]) Degraded() bool {
	return c.remote == nil || c.health.Load() == healthDegraded
}

// setLocal writes the in-process copy and enforces MaxEntries by evicting
// entries with the oldest write time. Re-setting an existing key refreshes
// its write time (insertion-order policy: writes refresh, reads do not).
func (c *KeyedCache[T]) setLocal(key string, value T, ttl time.Duration) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.createdAt = now
		entry.expiresAt = now.Add(ttl)
		c.index.MoveToBack(entry.elem)
		return
	}

	entry := &cacheEntry[T]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	entry.elem = c.index.PushBack(key)
	c.entries[key] = entry

	evicted := 0
	for len(c.entries) > c.config.MaxEntries {
		oldest := c.index.Front()
		if oldest == nil {
			break
		}
		victim := oldest.Value.(string)
		c.removeLocked(victim, c.entries[victim])
		evicted++
	}
	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		if c.metrics != nil {
			c.metrics.RecordCacheEviction(c.config.Name, evicted)
		}
	}
}

// removeLocked removes an entry; the caller holds c.mu.
func (c *KeyedCache[T]) removeLocked(key string, entry *cacheEntry[T]) {
	if entry == nil {
		return
	}
	c.index.Remove(entry.elem)
	delete(c.entries, key)
}

// remoteUsable lazily decides remote health on first use. The check is
// idempotent: concurrent callers may ping redundantly and settle on the
// same answer, so no lock is needed.
func (c *KeyedCache[T]) remoteUsable(ctx context.Context) bool {
	if c.remote == nil {
		return false
	}
	switch c.health.Load() {
	case healthHealthy:
		return true
	case healthDegraded:
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
	defer cancel()
	if err := c.remote.Ping(pctx); err != nil {
		c.health.Store(healthDegraded)
		c.logger.Warn("remote cache tier unreachable, running in-process only",
			zap.Error(err))
		return false
	}
	c.health.Store(healthHealthy)
	c.logger.Info("remote cache tier healthy")
	return true
}

// noteRemoteFault logs a remote failure and marks the operation as served
// by the in-process fallback.
func (c *KeyedCache[T]) noteRemoteFault(op, key string, err error) {
	c.noteFallback()
	c.logger.Warn("remote cache operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}

func (c *KeyedCache[T]) noteHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheHit(c.config.Name)
	}
}

func (c *KeyedCache[T]) noteMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(c.config.Name)
	}
}

func (c *KeyedCache[T]) noteFallback() {
	c.fallbacks.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheFallback(c.config.Name)
	}
}
