// Package httpserver wires the gateway's HTTP surface: the authenticated
// tenant API, the processor-facing callback endpoints, and the
// operational endpoints (health, metrics).
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/acoruss/gateway/internal/apikey"
	"github.com/acoruss/gateway/internal/config"
	"github.com/acoruss/gateway/internal/logger"
	"github.com/acoruss/gateway/internal/metrics"
	"github.com/acoruss/gateway/internal/payments"
	"github.com/acoruss/gateway/internal/ratelimit"
	"github.com/acoruss/gateway/internal/storage"
)

const apiPrefix = "/api/v1"

// handlers bundles the dependencies every endpoint needs.
type handlers struct {
	cfg     *config.Config
	service *payments.Service
	store   storage.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	handlers   *handlers
	httpServer *http.Server
}

func newHandlers(cfg *config.Config, service *payments.Service, store storage.Store, metricsCollector *metrics.Metrics, log zerolog.Logger) *handlers {
	return &handlers{
		cfg:     cfg,
		service: service,
		store:   store,
		metrics: metricsCollector,
		logger:  log.With().Str("component", "httpserver").Logger(),
	}
}

// New builds the server and mounts all routes on a fresh router.
func New(cfg *config.Config, service *payments.Service, store storage.Store, metricsCollector *metrics.Metrics, log zerolog.Logger) *Server {
	h := newHandlers(cfg, service, store, metricsCollector, log)
	router := chi.NewRouter()
	h.mount(router)

	return &Server{
		handlers: h,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		},
	}
}

// ConfigureRouter mounts middleware and routes onto an existing router,
// so embedders can host the gateway inside their own chi tree.
func ConfigureRouter(router chi.Router, cfg *config.Config, service *payments.Service, store storage.Store, metricsCollector *metrics.Metrics, log zerolog.Logger) {
	newHandlers(cfg, service, store, metricsCollector, log).mount(router)
}

func (h *handlers) mount(router chi.Router) {
	cfg := h.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}
	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Operational endpoints answer fast or not at all.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/gateway-health", h.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	// Processor-facing endpoints. No bearer auth: the redirect carries no
	// credentials and the webhook is secured by its signature.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(ratelimit.IPLimiter(ratelimit.IPConfig{
			Enabled: cfg.RateLimit.PerIPEnabled,
			Limit:   cfg.RateLimit.PerIPLimit,
			Window:  cfg.RateLimit.PerIPWindow.Duration,
			Metrics: h.metrics,
		}))
		r.Get("/payments/verify/", h.verifyCallback)
		r.Post("/payments/webhook/", h.inboundWebhook)
	})

	// Tenant API.
	keyLimiter := newKeyLimiter(cfg.RateLimit)
	router.Route(apiPrefix, func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(apikey.Middleware(h.store, keyLimiter, h.metrics))
		r.Post("/payments/initiate/", h.initiatePayment)
		r.Get("/payments/", h.listPayments)
		r.Get("/payments/{reference}/", h.getPayment)
		r.Get("/payments/{reference}/deliveries/", h.listDeliveries)
		r.Post("/payments/{reference}/refund/", h.refundPayment)
	})
}

func newKeyLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	max := cfg.Max
	if max <= 0 {
		max = 60
	}
	window := cfg.Window.Duration
	if window <= 0 {
		window = time.Minute
	}
	return ratelimit.NewLimiter(max, window)
}

// Handler returns the mounted router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.handlers.logger.Info().Str("address", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
