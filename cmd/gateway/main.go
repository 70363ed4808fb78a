// Command gateway runs the payments orchestration gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
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
	"github.com/acoruss/gateway/internal/webhooks"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	// A missing .env file is not an error; env vars may come from the host.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "acoruss-gateway",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager(log)
	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	resources.Register("storage", store)

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	processor := paystack.NewClient(cfg.Processor, breaker, metricsCollector, log)

	dispatcher := webhooks.NewDispatcher(cfg.Webhooks, store, breaker, metricsCollector, log)
	service := payments.NewService(store, processor, dispatcher, metricsCollector, cfg.Server.SiteURL, log)

	server := httpserver.New(cfg, service, store, metricsCollector, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	// Let in-flight webhook deliveries run out their retry budgets before
	// the store goes away.
	dispatcher.Wait()

	if err := resources.Close(); err != nil {
		log.Error().Err(err).Msg("close resources")
	}
	log.Info().Msg("gateway stopped")
}
