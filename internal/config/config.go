// Package config provides application configuration loading from environment variables and .env files.
// It uses viper for flexible configuration management with sensible defaults.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration loaded from environment variables or .env file.
// Configuration priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv          string        // Runtime mode (development, production); diagnostics only
	Port            string        // HTTP listen port
	HTTPAddr        string        // HTTP server bind address derived from Port
	MetricsAddr     string        // Metrics server bind address, empty disables it
	StaticDir       string        // Directory served for non-API paths
	LogLevel        string        // zerolog level name
	LogFormat       string        // json or console
	RateLimitPerIP  int           // Query requests per minute per IP, 0 disables limiting
	OTLPEndpoint    string        // OTLP/HTTP trace endpoint, empty disables export
	ShutdownTimeout time.Duration // Upper bound for graceful HTTP shutdown
	Database        PoolConfig    // Resolved database pool settings
}

// Load reads configuration from environment variables and .env file (if present).
// Environment variables take precedence over .env file values.
//
// Database identity is resolved through ResolveDatabase, so a missing password or
// malformed connection string fails here with a *ConfigError. Server settings are
// checked separately by Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // Optional; silently ignored if file doesn't exist
	_ = v.ReadInConfig()    // Ignore error - .env is optional
	v.AutomaticEnv()

	setConfigDefaults(v)

	db, err := ResolveDatabase(v.GetString)
	if err != nil {
		return nil, err
	}
	db.MaxConns = v.GetInt32("DB_MAX_CONNS")
	db.IdleTimeout = v.GetDuration("DB_IDLE_TIMEOUT")
	db.ConnectTimeout = v.GetDuration("DB_CONNECT_TIMEOUT")
	db.KeepAlive = v.GetBool("DB_KEEPALIVE")
	db.KeepAliveDelay = v.GetDuration("DB_KEEPALIVE_DELAY")

	port := v.GetString("PORT")
	return &Config{
		AppEnv:          appEnv(v),
		Port:            port,
		HTTPAddr:        ":" + port,
		MetricsAddr:     v.GetString("METRICS_ADDR"),
		StaticDir:       v.GetString("STATIC_DIR"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		RateLimitPerIP:  v.GetInt("RATE_LIMIT_PER_IP"),
		OTLPEndpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		Database:        *db,
	}, nil
}

// setConfigDefaults sets default values for all configuration options.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("STATIC_DIR", "./public")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("RATE_LIMIT_PER_IP", 0)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("DB_MAX_CONNS", DefaultMaxConns)
	v.SetDefault("DB_IDLE_TIMEOUT", DefaultIdleTimeout.String())
	v.SetDefault("DB_CONNECT_TIMEOUT", DefaultConnectTimeout.String())
	v.SetDefault("DB_KEEPALIVE", true)
	v.SetDefault("DB_KEEPALIVE_DELAY", DefaultKeepAliveDelay.String())
}

// appEnv prefers APP_ENV and falls back to NODE_ENV for older deployments.
func appEnv(v *viper.Viper) string {
	for _, key := range []string{"APP_ENV", "NODE_ENV"} {
		if env := v.GetString(key); env != "" {
			return env
		}
	}
	return "development"
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

// ValidationError represents a configuration validation error with details about what failed.
type ValidationError struct {
	Field   string // Name of the configuration field
	Message string // Human-readable error message
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks server settings so that startup fails fast on misconfiguration.
//
// Validation Rules:
//  1. PORT must be a number in 1..65535
//  2. LOG_FORMAT must be "json" or "console"
//  3. DB_MAX_CONNS must be positive
//  4. DB_CONNECT_TIMEOUT and DB_IDLE_TIMEOUT must be positive
//  5. RATE_LIMIT_PER_IP must not be negative
func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return ValidationError{Field: "PORT", Message: fmt.Sprintf("must be a port number, got '%s'", c.Port)}
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ValidationError{Field: "LOG_FORMAT", Message: fmt.Sprintf("must be 'json' or 'console', got '%s'", c.LogFormat)}
	}

	if c.Database.MaxConns <= 0 {
		return ValidationError{Field: "DB_MAX_CONNS", Message: "must be greater than zero"}
	}

	if c.Database.ConnectTimeout <= 0 {
		return ValidationError{Field: "DB_CONNECT_TIMEOUT", Message: "must be greater than zero"}
	}

	if c.Database.IdleTimeout <= 0 {
		return ValidationError{Field: "DB_IDLE_TIMEOUT", Message: "must be greater than zero"}
	}

	if c.RateLimitPerIP < 0 {
		return ValidationError{Field: "RATE_LIMIT_PER_IP", Message: "cannot be negative"}
	}

	return nil
}
