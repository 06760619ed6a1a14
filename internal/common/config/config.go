// Package config provides configuration management for the agent gateway.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the gateway.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Runs       RunsConfig       `mapstructure:"runs"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Activity   ActivityConfig   `mapstructure:"activity"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Driver selects the backend: "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// RunsConfig holds run dispatch configuration.
type RunsConfig struct {
	SyncTimeout    int `mapstructure:"syncTimeout"`    // in seconds, cap for blocking runs
	RequestTimeout int `mapstructure:"requestTimeout"` // in seconds, per backend HTTP request
	MaxEvents      int `mapstructure:"maxEvents"`      // retained transitions per run
}

// SupervisorConfig holds local agent process configuration.
type SupervisorConfig struct {
	StartupTimeout  int `mapstructure:"startupTimeout"`  // in seconds, spawn to first healthy ping
	StopGracePeriod int `mapstructure:"stopGracePeriod"` // in seconds, SIGTERM to SIGKILL
	ProbeInterval   int `mapstructure:"probeInterval"`   // in milliseconds, initial ping backoff
	ProbeMaxWait    int `mapstructure:"probeMaxWait"`    // in milliseconds, ping backoff cap
}

// ActivityConfig holds agent exchange log configuration.
type ActivityConfig struct {
	Retention       int `mapstructure:"retention"`       // in hours, log rows older than this are pruned
	CleanupInterval int `mapstructure:"cleanupInterval"` // in minutes
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// SyncTimeoutDuration returns the sync run cap as a time.Duration.
func (r *RunsConfig) SyncTimeoutDuration() time.Duration {
	return time.Duration(r.SyncTimeout) * time.Second
}

// RequestTimeoutDuration returns the backend request timeout as a time.Duration.
func (r *RunsConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(r.RequestTimeout) * time.Second
}

// StartupTimeoutDuration returns the startup timeout as a time.Duration.
func (s *SupervisorConfig) StartupTimeoutDuration() time.Duration {
	return time.Duration(s.StartupTimeout) * time.Second
}

// StopGracePeriodDuration returns the stop grace period as a time.Duration.
func (s *SupervisorConfig) StopGracePeriodDuration() time.Duration {
	return time.Duration(s.StopGracePeriod) * time.Second
}

// ProbeIntervalDuration returns the initial health probe interval as a time.Duration.
func (s *SupervisorConfig) ProbeIntervalDuration() time.Duration {
	return time.Duration(s.ProbeInterval) * time.Millisecond
}

// ProbeMaxWaitDuration returns the health probe backoff cap as a time.Duration.
func (s *SupervisorConfig) ProbeMaxWaitDuration() time.Duration {
	return time.Duration(s.ProbeMaxWait) * time.Millisecond
}

// RetentionDuration returns the activity log retention as a time.Duration.
func (a *ActivityConfig) RetentionDuration() time.Duration {
	return time.Duration(a.Retention) * time.Hour
}

// CleanupIntervalDuration returns the activity pruner interval as a time.Duration.
func (a *ActivityConfig) CleanupIntervalDuration() time.Duration {
	return time.Duration(a.CleanupInterval) * time.Minute
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("GATEWAY_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file alongside the service
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "agent-gateway.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gateway")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "gateway")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agent-gateway")
	v.SetDefault("nats.maxReconnects", 10)

	// Run dispatch defaults
	v.SetDefault("runs.syncTimeout", 300)
	v.SetDefault("runs.requestTimeout", 120)
	v.SetDefault("runs.maxEvents", 100)

	// Supervisor defaults
	v.SetDefault("supervisor.startupTimeout", 30)
	v.SetDefault("supervisor.stopGracePeriod", 5)
	v.SetDefault("supervisor.probeInterval", 100)
	v.SetDefault("supervisor.probeMaxWait", 1000)

	// Activity log defaults
	v.SetDefault("activity.retention", 168) // 7 days
	v.SetDefault("activity.cleanupInterval", 60)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix GATEWAY_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/agent-gateway/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("database.dbName", "GATEWAY_DATABASE_DB_NAME")
	_ = v.BindEnv("runs.syncTimeout", "GATEWAY_RUNS_SYNC_TIMEOUT")
	_ = v.BindEnv("runs.requestTimeout", "GATEWAY_RUNS_REQUEST_TIMEOUT")
	_ = v.BindEnv("supervisor.startupTimeout", "GATEWAY_SUPERVISOR_STARTUP_TIMEOUT")
	_ = v.BindEnv("supervisor.stopGracePeriod", "GATEWAY_SUPERVISOR_STOP_GRACE_PERIOD")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agent-gateway/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Runs.SyncTimeout <= 0 {
		errs = append(errs, "runs.syncTimeout must be positive")
	}
	if cfg.Runs.RequestTimeout <= 0 {
		errs = append(errs, "runs.requestTimeout must be positive")
	}
	if cfg.Supervisor.StartupTimeout <= 0 {
		errs = append(errs, "supervisor.startupTimeout must be positive")
	}
	if cfg.Supervisor.StopGracePeriod < 0 {
		errs = append(errs, "supervisor.stopGracePeriod must not be negative")
	}
	if cfg.Activity.Retention <= 0 {
		errs = append(errs, "activity.retention must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
