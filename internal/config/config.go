// Package config provides configuration loading for the register extractor.
// Supports YAML files, .env files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCacheTTLMinutes = 30
	DefaultCacheMaxEntries = 100
	DefaultMaxUploadBytes  = 50 << 20
)

// Config holds all configuration for the extractor.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	LLM           LLMConfig           `yaml:"llm"`
	Uploads       UploadsConfig       `yaml:"uploads"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"` // 0 keeps streaming responses open
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	TTLMinutes   int  `yaml:"ttl_minutes"`
	MaxEntries   int  `yaml:"max_entries"`
	RedisEnabled bool `yaml:"redis_enabled"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// RateLimitConfig holds the per-tier request limits.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Store    string        `yaml:"store"` // memory or redis
	Window   time.Duration `yaml:"window"`
	PDF      int           `yaml:"pdf"`
	File     int           `yaml:"file"`
	Document int           `yaml:"document"`
	General  int           `yaml:"general"`
}

// ExtractionConfig holds pipeline settings.
type ExtractionConfig struct {
	BatchSize               int           `yaml:"batch_size"`
	BatchTimeout            time.Duration `yaml:"batch_timeout"`
	RenderImages            bool          `yaml:"render_images"`
	ImageDPI                float64       `yaml:"image_dpi"`
	ExpectedRegisterDensity float64       `yaml:"expected_register_density"`
	MaxPageNumber           int           `yaml:"max_page_number"`
	EventBuffer             int           `yaml:"event_buffer"`
}

// LLMConfig holds deep-extraction provider settings.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // openrouter or gemini
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

// UploadsConfig holds the upload-then-subscribe registry settings.
type UploadsConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxPending int           `yaml:"max_pending"`
}

// RedisConfig holds Redis connection settings shared by the rate limiter and cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             3001,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     0,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   60 * time.Second,
			GracefulShutdown: 15 * time.Second,
			MaxUploadBytes:   DefaultMaxUploadBytes,
			AllowedOrigins:   []string{"*"},
		},
		Cache: CacheConfig{
			TTLMinutes: DefaultCacheTTLMinutes,
			MaxEntries: DefaultCacheMaxEntries,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Store:    "memory",
			Window:   15 * time.Minute,
			PDF:      10,
			File:     30,
			Document: 200,
			General:  100,
		},
		Extraction: ExtractionConfig{
			BatchSize:               5,
			BatchTimeout:            2 * time.Minute,
			RenderImages:            true,
			ImageDPI:                150,
			ExpectedRegisterDensity: 2.0,
			MaxPageNumber:           10000,
			EventBuffer:             32,
		},
		LLM: LLMConfig{
			Provider:          "openrouter",
			RequestsPerSecond: 2,
			Burst:             1,
			MaxRetries:        3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        30 * time.Second,
		},
		Uploads: UploadsConfig{
			TTL:        10 * time.Minute,
			MaxPending: 50,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			Prefix:   "regx:",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "register-extractor",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}

	if c.RateLimit.Store != "memory" && c.RateLimit.Store != "redis" {
		return fmt.Errorf("invalid rate limit store: %s", c.RateLimit.Store)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	if c.Extraction.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}

	if c.Extraction.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive")
	}

	if c.LLM.Provider != "openrouter" && c.LLM.Provider != "gemini" {
		return fmt.Errorf("invalid llm provider: %s", c.LLM.Provider)
	}

	return nil
}

// normalize replaces unusable cache settings with their defaults.
func (c *Config) normalize() {
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = DefaultCacheTTLMinutes
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Extraction.EventBuffer < 1 {
		c.Extraction.EventBuffer = 1
	}
}

// PositiveIntOrDefault parses raw as a positive integer, returning def for
// anything non-numeric or not greater than zero.
func PositiveIntOrDefault(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("PDF_CACHE_TTL_MINUTES"); ok {
		cfg.Cache.TTLMinutes = PositiveIntOrDefault(v, DefaultCacheTTLMinutes)
	}

	if v, ok := os.LookupEnv("PDF_CACHE_MAX_ENTRIES"); ok {
		cfg.Cache.MaxEntries = PositiveIntOrDefault(v, DefaultCacheMaxEntries)
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Addr = strings.TrimPrefix(v, "redis://")
		cfg.Cache.RedisEnabled = true
	}

	if v := os.Getenv("RATE_LIMIT_STORE"); v != "" {
		cfg.RateLimit.Store = v
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}

	if v := os.Getenv("EXTRACTION_BATCH_SIZE"); v != "" {
		cfg.Extraction.BatchSize = PositiveIntOrDefault(v, cfg.Extraction.BatchSize)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
