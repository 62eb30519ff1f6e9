// Package config provides configuration loading and validation for the
// labelscan CLI and HTTP server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LABELSCAN_SERVER_PORT.
const EnvPrefix = "LABELSCAN"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LLMConfig selects the provider and optional per-tier model overrides.
type LLMConfig struct {
	Provider      string `mapstructure:"provider"` // "gemini" or "openai"
	APIKey        string `mapstructure:"api_key"`
	LiteModel     string `mapstructure:"lite_model"`
	StandardModel string `mapstructure:"standard_model"`
}

// GatewayConfig holds retry and throttling policy for model calls.
type GatewayConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// DatabaseConfig points at Postgres for the server and SQLite for local CLI runs.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// CacheConfig selects the model response cache.
type CacheConfig struct {
	Type          string        `mapstructure:"type"` // "memory", "redis" or "none"
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// AnalysisConfig tunes the pipeline and chat.
type AnalysisConfig struct {
	BatchConcurrency int `mapstructure:"batch_concurrency"`
	HistoryWindow    int `mapstructure:"history_window"`
}

// Load reads configuration from defaults, an optional config file and
// LABELSCAN_* environment variables, in increasing precedence. An empty path
// searches ./labelscan.yaml and /etc/labelscan/; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("labelscan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/labelscan/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.applyProviderKey()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.lite_model", "")
	v.SetDefault("llm.standard_model", "")

	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.base_delay", "500ms")
	v.SetDefault("gateway.max_delay", "8s")
	v.SetDefault("gateway.call_timeout", "30s")
	v.SetDefault("gateway.requests_per_second", 5.0)
	v.SetDefault("gateway.burst", 10)

	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "labelscan.db")

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "labelscan:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("analysis.batch_concurrency", 4)
	v.SetDefault("analysis.history_window", 10)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration_hours", 24)
}

// applyProviderKey falls back to the provider's conventional key variable.
func (c *Config) applyProviderKey() {
	if c.LLM.APIKey != "" {
		return
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	default:
		c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate checks value ranges. Secrets needed only by some commands are
// checked by RequireAPIKey and RequireServer.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm provider must be 'gemini' or 'openai', got: %s", c.LLM.Provider)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got: %d", c.Server.Port)
	}

	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway max_attempts must be at least 1, got: %d", c.Gateway.MaxAttempts)
	}
	if c.Gateway.RequestsPerSecond < 0 {
		return fmt.Errorf("gateway requests_per_second must be non-negative")
	}
	if c.Gateway.CallTimeout <= 0 {
		return fmt.Errorf("gateway call_timeout must be positive")
	}

	switch c.Cache.Type {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required when cache type is 'redis'")
		}
	default:
		return fmt.Errorf("cache type must be 'memory', 'redis' or 'none', got: %s", c.Cache.Type)
	}

	if c.Analysis.BatchConcurrency < 1 {
		return fmt.Errorf("analysis batch_concurrency must be at least 1, got: %d", c.Analysis.BatchConcurrency)
	}
	if c.Analysis.HistoryWindow < 1 {
		return fmt.Errorf("analysis history_window must be at least 1, got: %d", c.Analysis.HistoryWindow)
	}
	return nil
}

// RequireAPIKey reports a missing model API key.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("API key is required (set %s_LLM_API_KEY or the provider's API key variable)", EnvPrefix)
	}
	return nil
}

// RequireServer checks the settings only the HTTP server needs.
func (c *Config) RequireServer() error {
	if err := c.RequireAPIKey(); err != nil {
		return err
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (set %s_DATABASE_URL)", EnvPrefix)
	}
	_, err := c.JWT.Resolve()
	return err
}
