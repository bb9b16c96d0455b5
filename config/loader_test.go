package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.False(t, cfg.Redis.Enabled, "remote cache tier is opt-in")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, 5*time.Minute, cfg.Cache.Contexts.TTL)
	assert.Equal(t, 1000, cfg.Cache.Contexts.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Cache.ToolResults.TTL)

	assert.Equal(t, 5, cfg.Retrieval.NumResults)
	assert.Equal(t, 0.3, cfg.Retrieval.ScoreThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Retrieval.Fallback.Timeout)

	assert.Equal(t, 2000, cfg.Hook.TokenBudget)
	assert.Equal(t, "cl100k_base", cfg.Tokenizer.Encoding)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoaderLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 2000, cfg.Hook.TokenBudget)
}

func TestLoaderLoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

redis:
  enabled: true
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

cache:
  contexts:
    ttl: 10m
    max_entries: 200

retrieval:
  primary:
    base_url: "https://kb.internal.example.com"
    api_key: "k-123"
  num_results: 8
  score_threshold: 0.5

hook:
  token_budget: 1500

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, 10*time.Minute, cfg.Cache.Contexts.TTL)
	assert.Equal(t, 200, cfg.Cache.Contexts.MaxEntries)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Minute, cfg.Cache.ToolResults.TTL)

	assert.Equal(t, "https://kb.internal.example.com", cfg.Retrieval.Primary.BaseURL)
	assert.Equal(t, "k-123", cfg.Retrieval.Primary.APIKey)
	assert.Equal(t, 8, cfg.Retrieval.NumResults)
	assert.Equal(t, 0.5, cfg.Retrieval.ScoreThreshold)

	assert.Equal(t, 1500, cfg.Hook.TokenBudget)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoaderMalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [not a map"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("MANDA_SERVER_HTTP_PORT", "9191")
	t.Setenv("MANDA_REDIS_ENABLED", "true")
	t.Setenv("MANDA_REDIS_ADDR", "cache-0.internal:6379")
	t.Setenv("MANDA_CACHE_CONTEXTS_TTL", "90s")
	t.Setenv("MANDA_RETRIEVAL_PRIMARY_BASE_URL", "https://kb.example.com")
	t.Setenv("MANDA_HOOK_TOKEN_BUDGET", "800")
	t.Setenv("MANDA_LOG_OUTPUT_PATHS", "stdout, /var/log/manda.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.HTTPPort)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache-0.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Cache.Contexts.TTL)
	assert.Equal(t, "https://kb.example.com", cfg.Retrieval.Primary.BaseURL)
	assert.Equal(t, 800, cfg.Hook.TokenBudget)
	assert.Equal(t, []string{"stdout", "/var/log/manda.log"}, cfg.Log.OutputPaths)
}

func TestLoaderEnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("hook:\n  token_budget: 1200\n"), 0644))

	t.Setenv("MANDA_HOOK_TOKEN_BUDGET", "600")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.Hook.TokenBudget, "env wins over file")
}

func TestLoaderCustomEnvPrefix(t *testing.T) {
	t.Setenv("ACME_SERVER_HTTP_PORT", "7070")

	cfg, err := NewLoader().WithEnvPrefix("ACME").Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"zero cache entries", func(c *Config) { c.Cache.Contexts.MaxEntries = 0 }},
		{"zero ttl", func(c *Config) { c.Cache.ToolResults.TTL = 0 }},
		{"threshold above one", func(c *Config) { c.Retrieval.ScoreThreshold = 1.5 }},
		{"zero token budget", func(c *Config) { c.Hook.TokenBudget = 0 }},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderValidatorRuns(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			c.Server.HTTPPort = 0
			return c.Validate()
		}).
		Load()
	assert.Error(t, err)
}
