// Package config provides configuration management for Cartograph.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with CARTO_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./configs/config.yaml, ~/.cartograph/config.yaml, /etc/cartograph/config.yaml)
//  3. .env files
//  4. Environment variables (CARTO_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use CARTO_ prefix and underscores for nested keys:
//   - CARTO_SERVER_PORT=8095
//   - CARTO_DATABASE_PATH=/var/lib/cartograph/cartograph.db
//   - CARTO_RUNTIME_STALENESS_WINDOW=2m
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for Cartograph.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database contains the embedded database settings
	Database DatabaseConfig `mapstructure:"database"`

	// Runtime contains state machine and staleness settings
	Runtime RuntimeConfig `mapstructure:"runtime"`

	// Commands contains command orchestration settings
	Commands CommandsConfig `mapstructure:"commands"`

	// Snapshots contains snapshot capture and retention settings
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`

	// Logging contains logging and observability settings
	Logging LoggingConfig `mapstructure:"logging"`

	// Security contains security and rate limiting settings
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging and additional endpoints
	Debug bool `mapstructure:"debug"`

	// TLSEnabled enables HTTPS
	TLSEnabled bool `mapstructure:"tls_enabled"`

	// TLSCert is the path to the TLS certificate file
	TLSCert string `mapstructure:"tls_cert"`

	// TLSKey is the path to the TLS private key file
	TLSKey string `mapstructure:"tls_key"`
}

// DatabaseConfig contains settings for the embedded sqlite database.
type DatabaseConfig struct {
	// Path is the sqlite database file location
	Path string `mapstructure:"path"`
}

// RuntimeConfig contains state machine and staleness sweep settings.
type RuntimeConfig struct {
	// StalenessWindow is how long a check result counts as fresh
	StalenessWindow time.Duration `mapstructure:"staleness_window"`

	// HistoryCap bounds the per-component transition history
	HistoryCap int `mapstructure:"history_cap"`

	// OverrideTTL is the default lifetime of a manual status override
	OverrideTTL time.Duration `mapstructure:"override_ttl"`

	// SweepInterval is how often quiet components are swept for staleness
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// CommandsConfig contains command orchestration settings.
type CommandsConfig struct {
	// DefaultTimeout applies to actions that do not declare their own
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// IdempotencyWindow is how long repeated invocations deduplicate
	IdempotencyWindow time.Duration `mapstructure:"idempotency_window"`

	// CompletedRetention is how long terminal commands stay addressable
	// in memory
	CompletedRetention time.Duration `mapstructure:"completed_retention"`

	// AgentQueueSize bounds each agent's pending dispatch queue
	AgentQueueSize int `mapstructure:"agent_queue_size"`
}

// SnapshotsConfig contains snapshot capture and retention settings.
type SnapshotsConfig struct {
	// Retention is how many snapshots are kept per map
	Retention int `mapstructure:"retention"`

	// Interval is how often every map gets a scheduled snapshot
	// (zero disables scheduled captures)
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`

	// Output is the log output destination (stdout, file)
	Output string `mapstructure:"output"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AuthEnabled enables JWT authentication
	AuthEnabled bool `mapstructure:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`

	// AgentTokenSecret is the secret key for agent authentication tokens
	AgentTokenSecret string `mapstructure:"agent_token_secret"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CARTO_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.cartograph")
		v.AddConfigPath("/etc/cartograph")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file that is missing falls back to defaults;
		// any other read error is fatal. Auto-discovery only fails on
		// errors other than ConfigFileNotFoundError.
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("CARTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("database.path", "./data/cartograph.db")

	v.SetDefault("runtime.staleness_window", "90s")
	v.SetDefault("runtime.history_cap", 50)
	v.SetDefault("runtime.override_ttl", "15m")
	v.SetDefault("runtime.sweep_interval", "30s")

	v.SetDefault("commands.default_timeout", "60s")
	v.SetDefault("commands.idempotency_window", "30s")
	v.SetDefault("commands.completed_retention", "1h")
	v.SetDefault("commands.agent_queue_size", 64)

	v.SetDefault("snapshots.retention", 20)
	v.SetDefault("snapshots.interval", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")
	v.SetDefault("security.agent_token_secret", "change-me-in-production")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if cfg.Runtime.StalenessWindow <= 0 {
		return fmt.Errorf("runtime staleness window must be positive")
	}

	if cfg.Runtime.HistoryCap < 1 {
		return fmt.Errorf("runtime history cap must be at least 1")
	}

	if cfg.Commands.DefaultTimeout <= 0 {
		return fmt.Errorf("commands default timeout must be positive")
	}

	if cfg.Snapshots.Retention < 1 {
		return fmt.Errorf("snapshots retention must be at least 1")
	}

	return nil
}

func Get() *Config {
	return cfg
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
