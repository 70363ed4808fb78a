// Package apikey authenticates tenant requests. A request carrying
// Authorization: Bearer <key> resolves to an active tenant whose IP
// allowlist, if set, contains the caller's address.
package apikey

import (
	"context"
	"net/http"
	"strings"

	"github.com/acoruss/gateway/internal/errors"
	"github.com/acoruss/gateway/internal/logger"
	"github.com/acoruss/gateway/internal/metrics"
	"github.com/acoruss/gateway/internal/ratelimit"
	"github.com/acoruss/gateway/internal/storage"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const contextKeyTenant contextKey = "tenant"

// TenantResolver is the subset of the store the middleware needs.
type TenantResolver interface {
	GetTenantByAPIKey(ctx context.Context, apiKey string) (storage.Tenant, error)
}

// Middleware returns the authentication middleware. The rate limit is
// applied before the store lookup and is keyed by the first 12 characters
// of the offered key, so a flood of bad keys cannot hammer the database.
func Middleware(resolver TenantResolver, limiter *ratelimit.Limiter, metricsCollector *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			header := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || key == "" {
				observeFailure(metricsCollector, "missing_header")
				errors.WriteSimpleError(w, errors.ErrCodeMissingAuthHeader, "missing or invalid Authorization header")
				return
			}

			keyPrefix := logger.TruncateKey(key)

			if limiter != nil && !limiter.Allow(keyPrefix) {
				observeFailure(metricsCollector, "rate_limited")
				if metricsCollector != nil {
					metricsCollector.ObserveRateLimit("per_key")
				}
				log.Warn().Str("api_key_prefix", keyPrefix).Msg("rate limit exceeded")
				errors.WriteSimpleError(w, errors.ErrCodeRateLimited, "rate limit exceeded")
				return
			}

			tenant, err := resolver.GetTenantByAPIKey(r.Context(), key)
			if err != nil || !tenant.IsActive {
				observeFailure(metricsCollector, "invalid_key")
				log.Warn().Str("api_key_prefix", keyPrefix).Msg("invalid api key")
				errors.WriteSimpleError(w, errors.ErrCodeInvalidAPIKey, "invalid API key")
				return
			}

			clientIP := logger.ClientIP(r)
			if !tenant.IPAllowed(clientIP) {
				observeFailure(metricsCollector, "ip_not_allowed")
				log.Warn().
					Str("api_key_prefix", keyPrefix).
					Str("tenant_id", tenant.ID).
					Str("client_ip", clientIP).
					Msg("ip address not allowed")
				errors.WriteSimpleError(w, errors.ErrCodeIPNotAllowed, "IP address not allowed")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyTenant, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func observeFailure(m *metrics.Metrics, reason string) {
	if m != nil {
		m.ObserveAuthFailure(reason)
	}
}

// TenantFromContext returns the authenticated tenant, if any.
func TenantFromContext(ctx context.Context) (storage.Tenant, bool) {
	tenant, ok := ctx.Value(contextKeyTenant).(storage.Tenant)
	return tenant, ok
}

// WithTenant attaches a tenant to the context. Used by tests.
func WithTenant(ctx context.Context, tenant storage.Tenant) context.Context {
	return context.WithValue(ctx, contextKeyTenant, tenant)
}
