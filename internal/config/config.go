package config

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
			SiteURL:      "http://localhost:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Processor: ProcessorConfig{
			BaseURL: "https://api.paystack.co",
			Timeout: Duration{Duration: 30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Window:       Duration{Duration: 60 * time.Second},
			Max:          60,
			PerIPEnabled: true,
			PerIPLimit:   120,
			PerIPWindow:  Duration{Duration: 1 * time.Minute},
		},
		Webhooks: WebhooksConfig{
			MaxAttempts: 3,
			RetryDelays: []Duration{
				{Duration: 1 * time.Second},
				{Duration: 5 * time.Second},
				{Duration: 25 * time.Second},
			},
			Timeout: Duration{Duration: 15 * time.Second},
		},
		Storage: StorageConfig{
			TenantsTableName:     "tenants",
			PaymentsTableName:    "payments",
			WebhookLogsTableName: "webhook_delivery_logs",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Processor: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// finalize validates the assembled configuration and normalises derived fields.
func (c *Config) finalize() error {
	if c.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.max must be positive, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window.Duration <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window.Duration)
	}
	if c.Webhooks.MaxAttempts < 1 {
		return fmt.Errorf("webhooks.max_attempts must be at least 1, got %d", c.Webhooks.MaxAttempts)
	}
	if c.Webhooks.Timeout.Duration <= 0 {
		return fmt.Errorf("webhooks.timeout must be positive, got %s", c.Webhooks.Timeout.Duration)
	}
	if len(c.Webhooks.RetryDelays) == 0 {
		c.Webhooks.RetryDelays = []Duration{{Duration: 1 * time.Second}}
	}
	if c.Processor.Timeout.Duration <= 0 {
		c.Processor.Timeout = Duration{Duration: 30 * time.Second}
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to an open database handle.
func ApplyPostgresPoolSettings(db *sql.DB, cfg PostgresPoolConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
}
