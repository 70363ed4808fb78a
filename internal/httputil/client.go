package httputil

import (
	"net/http"
	"time"
)

// NewClient creates a new HTTP client with the given timeout and tuned transport settings.
// This provides consistent configuration across all outbound HTTP clients in the gateway
// (upstream processor calls, tenant webhook deliveries).
//
// Transport settings:
//   - MaxIdleConns: 100 (total idle connections across all hosts)
//   - MaxIdleConnsPerHost: 10 (idle connections per host)
//   - IdleConnTimeout: 90s (time to keep idle connections alive)
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
