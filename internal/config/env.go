package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// Processor and webhook knobs use their historical un-prefixed names;
// everything else uses the GATEWAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "GATEWAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.SiteURL, "SITE_URL")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "GATEWAY_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("GATEWAY_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitAndTrim(v)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "GATEWAY_ENVIRONMENT")

	// Upstream processor config
	setIfEnv(&c.Processor.SecretKey, "PROCESSOR_SECRET_KEY")
	setIfEnv(&c.Processor.PublicKey, "PROCESSOR_PUBLIC_KEY")
	setIfEnv(&c.Processor.BaseURL, "PROCESSOR_BASE_URL")
	setSecondsIfEnv(&c.Processor.Timeout, "PROCESSOR_TIMEOUT_SECONDS")

	// Rate limit config
	setSecondsIfEnv(&c.RateLimit.Window, "RATE_LIMIT_WINDOW_SECONDS")
	setIntIfEnv(&c.RateLimit.Max, "RATE_LIMIT_MAX")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "GATEWAY_PER_IP_LIMIT_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "GATEWAY_PER_IP_LIMIT")

	// Outbound webhook config
	setIntIfEnv(&c.Webhooks.MaxAttempts, "WEBHOOK_MAX_ATTEMPTS")
	setSecondsIfEnv(&c.Webhooks.Timeout, "WEBHOOK_TIMEOUT_SECONDS")
	if v := os.Getenv("WEBHOOK_RETRY_DELAYS"); v != "" {
		if delays := parseRetryDelays(v); len(delays) > 0 {
			c.Webhooks.RetryDelays = delays
		}
	}

	// Storage config
	setIfEnv(&c.Storage.Backend, "GATEWAY_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "GATEWAY_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "GATEWAY_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "GATEWAY_MONGODB_DATABASE")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setSecondsIfEnv sets a Duration pointer from an environment variable holding
// either a whole number of seconds or a Go-style duration string.
func setSecondsIfEnv(target *Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*target = Duration{Duration: time.Duration(secs) * time.Second}
		return
	}
	if dur, err := time.ParseDuration(v); err == nil {
		*target = Duration{Duration: dur}
	}
}

// parseRetryDelays parses delay lists like "[1, 5, 25]" or "1,5,25".
// Values are whole seconds.
func parseRetryDelays(raw string) []Duration {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	var delays []Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		secs, err := strconv.Atoi(part)
		if err != nil || secs < 0 {
			return nil
		}
		delays = append(delays, Duration{Duration: time.Duration(secs) * time.Second})
	}
	return delays
}

// splitAndTrim splits a comma-separated value into trimmed non-empty parts.
func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
