// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.parley/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Mode: local vs managed execution for the agent and stores
//   - Relay: keep-alive period, maximum turn duration
//   - History: page size limit for event log reads
//   - Storage: PostgreSQL connection (see storage.go)
//   - Observability: OTLP trace export
//
// Security: sensitive data (passwords, API keys) is never logged.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidMode indicates the execution mode is not supported.
	ErrInvalidMode = errors.New("invalid execution mode")

	// ErrInvalidKeepAlive indicates the keep-alive period is out of range.
	ErrInvalidKeepAlive = errors.New("invalid keep-alive period")

	// ErrInvalidTurnTimeout indicates the maximum turn duration is out of range.
	ErrInvalidTurnTimeout = errors.New("invalid turn timeout")

	// ErrInvalidHistoryLimit indicates the history page size is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")
)

// Execution mode identifiers used in Config.Mode.
const (
	// ModeLocal runs the agent invoker in-process and allows the in-memory
	// stores; intended for development and anonymous users.
	ModeLocal = "local"

	// ModeManaged uses the durable PostgreSQL-backed stores.
	ModeManaged = "managed"
)

// History limits. The page size bounds the newest-first event log read that
// feeds reconstruction; the maximum exists to prevent OOM on pathological logs.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
	MinHistoryLimit     = 10
)

// Config stores application configuration.
type Config struct {
	// Execution mode: "local" (default) or "managed".
	Mode string `mapstructure:"mode"`

	// Relay configuration.
	KeepAlivePeriod time.Duration `mapstructure:"keep_alive_period"`
	MaxTurnDuration time.Duration `mapstructure:"max_turn_duration"`

	// History reconstruction configuration.
	HistoryLimit int `mapstructure:"history_limit"`

	// Agent configuration (local mode).
	AnthropicModel  string `mapstructure:"anthropic_model"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"` // SENSITIVE: never logged

	// Server configuration.
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst"`

	// Storage configuration (see storage.go for DSN helpers).
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Observability configuration.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string `mapstructure:"environment"`
	ServiceName  string `mapstructure:"service_name"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".parley")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.applyDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeLocal)

	// Relay defaults. The 20s keep-alive matches common intermediary idle
	// timeouts (ALB, nginx) with margin.
	v.SetDefault("keep_alive_period", 20*time.Second)
	v.SetDefault("max_turn_duration", 15*time.Minute)

	v.SetDefault("history_limit", DefaultHistoryLimit)

	v.SetDefault("anthropic_model", "claude-sonnet-4-20250514")

	v.SetDefault("listen_addr", "127.0.0.1:8321")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "parley")
	v.SetDefault("postgres_password", "parley_dev_password")
	v.SetDefault("postgres_db_name", "parley")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Observability defaults.
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("environment", "dev")
	v.SetDefault("service_name", "parley")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets are only ever read from the environment, never the config file search path.
func bindEnvVariables(v *viper.Viper) {
	// Errors from BindEnv only occur with zero arguments; safe to ignore here.
	_ = v.BindEnv("mode", "PARLEY_MODE")
	_ = v.BindEnv("keep_alive_period", "PARLEY_KEEP_ALIVE_PERIOD")
	_ = v.BindEnv("max_turn_duration", "PARLEY_MAX_TURN_DURATION")
	_ = v.BindEnv("history_limit", "PARLEY_HISTORY_LIMIT")
	_ = v.BindEnv("listen_addr", "PARLEY_LISTEN_ADDR")
	_ = v.BindEnv("rate_burst", "PARLEY_RATE_BURST")
	_ = v.BindEnv("anthropic_model", "PARLEY_ANTHROPIC_MODEL")
	_ = v.BindEnv("anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("postgres_password", "PARLEY_POSTGRES_PASSWORD")
	_ = v.BindEnv("otlp_endpoint", "PARLEY_OTLP_ENDPOINT")
}

// Validate checks configuration invariants. Fail-fast at startup.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Mode {
	case ModeLocal, ModeManaged:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidMode, c.Mode, ModeLocal, ModeManaged)
	}

	if c.KeepAlivePeriod < time.Second || c.KeepAlivePeriod > 5*time.Minute {
		return fmt.Errorf("%w: %s (want 1s..5m)", ErrInvalidKeepAlive, c.KeepAlivePeriod)
	}

	if c.MaxTurnDuration < time.Minute || c.MaxTurnDuration > 2*time.Hour {
		return fmt.Errorf("%w: %s (want 1m..2h)", ErrInvalidTurnTimeout, c.MaxTurnDuration)
	}

	if c.HistoryLimit < MinHistoryLimit || c.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidHistoryLimit, c.HistoryLimit, MinHistoryLimit, MaxHistoryLimit)
	}

	if c.Mode == ModeManaged {
		if c.PostgresHost == "" {
			return ErrInvalidPostgresHost
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
	}

	return nil
}

// ValidateServe checks the extra requirements of serve mode in local
// execution: the local invoker needs an Anthropic API key.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Mode == ModeLocal && c.AnthropicAPIKey == "" {
		return fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
