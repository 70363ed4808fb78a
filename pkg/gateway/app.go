// Package gateway assembles the payment gateway's services for
// standalone serving or embedding inside a larger application.
package gateway

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acoruss/gateway/internal/circuitbreaker"
	"github.com/acoruss/gateway/internal/config"
	"github.com/acoruss/gateway/internal/httpserver"
	"github.com/acoruss/gateway/internal/lifecycle"
	"github.com/acoruss/gateway/internal/logger"
	"github.com/acoruss/gateway/internal/metrics"
	"github.com/acoruss/gateway/internal/payments"
	"github.com/acoruss/gateway/internal/paystack"
	"github.com/acoruss/gateway/internal/storage"
	"github.com/acoruss/gateway/internal/tenant"
	"github.com/acoruss/gateway/internal/webhooks"
)

// App wires the gateway's components together.
type App struct {
	Config     *config.Config
	Store      storage.Store
	Processor  payments.Processor
	Dispatcher *webhooks.Dispatcher
	Payments   *payments.Service
	Tenants    *tenant.Service

	router    chi.Router
	resources *lifecycle.Manager
	metrics   *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store     storage.Store
	processor payments.Processor
	notifier  payments.Notifier
	router    chi.Router
	registry  prometheus.Registerer
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithProcessor injects a custom upstream processor client.
func WithProcessor(processor payments.Processor) Option {
	return func(o *options) { o.processor = processor }
}

// WithNotifier replaces the built-in webhook dispatcher.
func WithNotifier(notifier payments.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

// WithRouter registers routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithRegistry sets the Prometheus registerer. Defaults to the global one.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *options) { o.registry = registry }
}

// NewApp assembles the gateway services.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "acoruss-gateway",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:    cfg,
		resources: lifecycle.NewManager(log),
	}

	registry := optState.registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	app.metrics = metrics.New(registry)

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.NewStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		app.Store = store
		app.resources.Register("storage", store)
	}

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	if optState.processor != nil {
		app.Processor = optState.processor
	} else {
		app.Processor = paystack.NewClient(cfg.Processor, breaker, app.metrics, log)
	}

	var notifier payments.Notifier
	if optState.notifier != nil {
		notifier = optState.notifier
	} else {
		app.Dispatcher = webhooks.NewDispatcher(cfg.Webhooks, app.Store, breaker, app.metrics, log)
		notifier = app.Dispatcher
		// Drain in-flight deliveries before the store closes underneath them.
		app.resources.RegisterFunc("webhook-dispatcher", func() error {
			app.Dispatcher.Wait()
			return nil
		})
	}

	app.Payments = payments.NewService(app.Store, app.Processor, notifier, app.metrics, cfg.Server.SiteURL, log)
	app.Tenants = tenant.NewService(app.Store, log)

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(app.router, cfg, app.Payments, app.Store, app.metrics, log)

	return app, nil
}

// Router returns the chi router with gateway routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases the app's resources.
func (a *App) Close() error {
	return a.resources.Close()
}
