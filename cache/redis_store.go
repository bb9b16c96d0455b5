package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements RemoteStore on a Redis client. Alongside each
// value it maintains a sorted set indexed by write time, trimmed to
// MaxEntries so the remote tier observes the same eviction bound as the
// in-process copy.
type RedisStore struct {
	client     *redis.Client
	namespace  string
	maxEntries int
	logger     *zap.Logger
}

// RedisConfig configures the Redis connection for a store.
type RedisConfig struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultRedisConfig returns default connection settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// NewRedisClient builds a Redis client from config. Connectivity is not
// verified here: remote health is checked lazily by the cache on first
// operation to avoid startup-order dependencies.
func NewRedisClient(config RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})
}

// NewRedisStore creates a RemoteStore over client. namespace partitions
// keys per concern; maxEntries bounds the remote index (<=0 disables
// remote trimming, leaving expiry to TTL alone).
func NewRedisStore(client *redis.Client, namespace string, maxEntries int, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:     client,
		namespace:  namespace,
		maxEntries: maxEntries,
		logger:     logger.With(zap.String("component", "redis_store"), zap.String("namespace", namespace)),
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the bytes stored under key and their remaining TTL, or
// ErrCacheMiss. The TTL travels with the value so a reading process can
// expire its local copy in step with Redis.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, s.valueKey(key))
	ttlCmd := pipe.PTTL(ctx, s.valueKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("redis get: %w", err)
	}

	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, ErrCacheMiss
	}
	if err != nil {
		return nil, 0, fmt.Errorf("redis get: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		// PTTL reports negative durations for missing keys and keys
		// without an expiry.
		ttl = 0
	}
	return data, ttl, nil
}

// Set stores value with ttl and records key in the write-time index, then
// trims the index and its victims down to maxEntries.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.valueKey(key), value, ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return s.trim(ctx)
}

// Delete removes key and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.valueKey(key))
	pipe.ZRem(ctx, s.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// trim evicts the chronologically oldest keys until the index is within
// maxEntries.
func (s *RedisStore) trim(ctx context.Context) error {
	if s.maxEntries <= 0 {
		return nil
	}

	count, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis index card: %w", err)
	}
	excess := count - int64(s.maxEntries)
	if excess <= 0 {
		return nil
	}

	victims, err := s.client.ZRange(ctx, s.indexKey(), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("redis index range: %w", err)
	}
	if len(victims) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, victim := range victims {
		pipe.Del(ctx, s.valueKey(victim))
	}
	pipe.ZRemRangeByRank(ctx, s.indexKey(), 0, excess-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis trim: %w", err)
	}

	s.logger.Debug("remote index trimmed", zap.Int("evicted", len(victims)))
	return nil
}

func (s *RedisStore) valueKey(key string) string {
	return s.namespace + ":v:" + key
}

func (s *RedisStore) indexKey() string {
	return s.namespace + ":index"
}
