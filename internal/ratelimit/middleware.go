package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/acoruss/gateway/internal/errors"
	"github.com/acoruss/gateway/internal/metrics"
)

// IPConfig holds per-IP rate limiting configuration for public endpoints.
// The verify redirect and inbound webhook carry no API key, so the client
// IP is the only identity available there.
type IPConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
	Metrics *metrics.Metrics
}

// IPLimiter creates a per-IP rate limiter middleware.
func IPLimiter(cfg IPConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		cfg.Limit,
		cfg.Window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Metrics != nil {
				cfg.Metrics.ObserveRateLimit("per_ip")
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.Window.Seconds())))
			errors.WriteSimpleError(w, errors.ErrCodeRateLimited, "rate limit exceeded")
		}),
	)
}
