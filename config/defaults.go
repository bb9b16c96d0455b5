package config

import "time"

// DefaultConfig returns defaults suitable for local development: remote
// cache tier disabled, in-memory retrieval backends.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Cache:     DefaultCacheConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Hook:      DefaultHookConfig(),
		Tokenizer: TokenizerConfig{Encoding: "cl100k_base"},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig returns Redis defaults. Disabled until explicitly
// turned on; every cache then runs in-process only.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultCacheConfig returns per-concern cache defaults. Retrieval
// contexts age out fast; isolated tool payloads live longer so a later
// turn can still pull the full result.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Contexts: CacheTierConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
		},
		ToolResults: CacheTierConfig{
			TTL:        30 * time.Minute,
			MaxEntries: 5000,
		},
	}
}

// DefaultRetrievalConfig returns retrieval defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Primary: BackendConfig{
			Timeout:        2 * time.Second,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Fallback: BackendConfig{
			Timeout:        500 * time.Millisecond,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		NumResults:         5,
		ScoreThreshold:     0.3,
		SlowQueryThreshold: 500 * time.Millisecond,
	}
}

// DefaultHookConfig returns hook defaults.
func DefaultHookConfig() HookConfig {
	return HookConfig{
		TokenBudget:          2000,
		LatencyWarnThreshold: 500 * time.Millisecond,
	}
}

// DefaultLogConfig returns logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns telemetry defaults.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "manda-context",
		SampleRate:   0.1,
	}
}
