package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Processor      ProcessorConfig      `yaml:"processor"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Webhooks       WebhooksConfig       `yaml:"webhooks"`
	Storage        StorageConfig        `yaml:"storage"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	SiteURL            string   `yaml:"site_url"`              // Base URL for the processor's redirect-back target
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty = unprotected)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Environment string `yaml:"environment"`
}

// ProcessorConfig holds upstream payment processor credentials and tuning.
type ProcessorConfig struct {
	SecretKey string   `yaml:"secret_key"`
	PublicKey string   `yaml:"public_key"`
	BaseURL   string   `yaml:"base_url"`
	Timeout   Duration `yaml:"timeout"` // Per-call timeout for upstream requests
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Per-key sliding window (authenticated tenant requests)
	Window Duration `yaml:"window"`
	Max    int      `yaml:"max"`

	// Per-IP limiting for unauthenticated surfaces (callbacks, health)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// WebhooksConfig holds outbound webhook delivery configuration.
type WebhooksConfig struct {
	MaxAttempts int        `yaml:"max_attempts"`
	RetryDelays []Duration `yaml:"retry_delays"` // Back-off between attempts; last value repeats if short
	Timeout     Duration   `yaml:"timeout"`      // Per-attempt timeout
}

// StorageConfig holds persistence backend configuration.
type StorageConfig struct {
	Backend         string `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL     string `yaml:"postgres_url"`
	MongoDBURL      string `yaml:"mongodb_url"`
	MongoDBDatabase string `yaml:"mongodb_database"`

	// Schema mapping (table names for Postgres, collection names for MongoDB)
	TenantsTableName     string `yaml:"tenants_table"`      // Default: "tenants"
	PaymentsTableName    string `yaml:"payments_table"`     // Default: "payments"
	WebhookLogsTableName string `yaml:"webhook_logs_table"` // Default: "webhook_delivery_logs"

	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// CircuitBreakerConfig holds circuit breaker settings for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Processor BreakerServiceConfig `yaml:"processor"`
}

// BreakerServiceConfig holds gobreaker settings for a single service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
