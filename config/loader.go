package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis configures the remote cache tier.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Cache configures the per-concern cache instances.
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Retrieval configures the two knowledge tiers.
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Hook configures the pre-response pipeline.
	Hook HookConfig `yaml:"hook" env:"HOOK"`

	// Tokenizer configures token counting.
	Tokenizer TokenizerConfig `yaml:"tokenizer" env:"TOKENIZER"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RedisConfig configures the remote key-value store. Enabled=false forces
// every cache into in-process-only operation, for local development.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// CacheConfig holds per-concern cache tuning. Each concern gets its own
// cache instance; they never share keys or budgets.
type CacheConfig struct {
	Contexts    CacheTierConfig `yaml:"contexts" env:"CONTEXTS"`
	ToolResults CacheTierConfig `yaml:"tool_results" env:"TOOL_RESULTS"`
}

// CacheTierConfig tunes one cache instance.
type CacheTierConfig struct {
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	MaxEntries int           `yaml:"max_entries" env:"MAX_ENTRIES"`
}

// RetrievalConfig configures the two-tier retriever.
type RetrievalConfig struct {
	Primary  BackendConfig `yaml:"primary" env:"PRIMARY"`
	Fallback BackendConfig `yaml:"fallback" env:"FALLBACK"`

	NumResults         int           `yaml:"num_results" env:"NUM_RESULTS"`
	ScoreThreshold     float64       `yaml:"score_threshold" env:"SCORE_THRESHOLD"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" env:"SLOW_QUERY_THRESHOLD"`
}

// BackendConfig configures one retrieval tier. An empty BaseURL selects
// the in-memory backend, which only makes sense in development.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url" env:"BASE_URL"`
	APIKey         string        `yaml:"api_key" env:"API_KEY"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// HookConfig configures the pre-response retrieval hook.
type HookConfig struct {
	TokenBudget          int           `yaml:"token_budget" env:"TOKEN_BUDGET"`
	LatencyWarnThreshold time.Duration `yaml:"latency_warn_threshold" env:"LATENCY_WARN_THRESHOLD"`
}

// TokenizerConfig selects the token counting encoding.
type TokenizerConfig struct {
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader builds a Config. Precedence: defaults, then YAML file, then
// environment variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the MANDA env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MANDA",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an
// error; defaults and env still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration or panics. For main() use only.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks invariants that should fail at startup, not
// mid-conversation.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Cache.Contexts.MaxEntries <= 0 || c.Cache.ToolResults.MaxEntries <= 0 {
		errs = append(errs, "cache max_entries must be positive")
	}
	if c.Cache.Contexts.TTL <= 0 || c.Cache.ToolResults.TTL <= 0 {
		errs = append(errs, "cache ttl must be positive")
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, "score_threshold must be between 0 and 1")
	}
	if c.Hook.TokenBudget <= 0 {
		errs = append(errs, "token_budget must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis enabled but no addr configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
