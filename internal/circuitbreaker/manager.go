package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/acoruss/gateway/internal/config"
)

// ServiceType identifies an external dependency with its own breaker.
// Each service trips independently so a failing processor cannot poison
// tenant webhook delivery and vice versa.
type ServiceType string

const (
	ServiceProcessor ServiceType = "processor_api"
	ServiceWebhook   ServiceType = "tenant_webhook"
)

// Manager holds the circuit breakers for the gateway's outbound calls.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts; 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// Trip thresholds: consecutive failures, or failure ratio over
	// at least MinRequests calls.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a manager from application config.
// The processor breaker settings are shared by the webhook breaker;
// tenant endpoints get the same tolerance as the upstream API.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	breaker := BreakerConfig{
		MaxRequests:         cfg.Processor.MaxRequests,
		Interval:            cfg.Processor.Interval.Duration,
		Timeout:             cfg.Processor.Timeout.Duration,
		ConsecutiveFailures: cfg.Processor.ConsecutiveFailures,
		FailureRatio:        cfg.Processor.FailureRatio,
		MinRequests:         cfg.Processor.MinRequests,
	}

	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceProcessor] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceProcessor), breaker))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceWebhook), breaker))
	return m
}

// Execute wraps fn with the service's circuit breaker.
// Disabled or unconfigured services pass through untouched.
func (m *Manager) Execute(service ServiceType, fn func() (any, error)) (any, error) {
	if !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State reports the breaker state for health endpoints.
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
	}
}
