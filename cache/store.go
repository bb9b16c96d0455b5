package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by stores when a key is unknown or expired.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// RemoteStore abstracts the remote key-value tier behind a KeyedCache.
// Implementations must be safe for concurrent use.
type RemoteStore interface {
	// Ping checks connectivity. Used once, lazily, to decide whether the
	// remote tier is usable at all.
	Ping(ctx context.Context) error

	// Get returns the stored bytes for key and the entry's remaining TTL,
	// or ErrCacheMiss. A zero TTL means the store could not report one.
	Get(ctx context.Context, key string) ([]byte, time.Duration, error)

	// Set stores value under key with the given TTL, and records the key
	// in the store's write-time eviction index.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key from the store and its eviction index.
	Delete(ctx context.Context, key string) error
}
