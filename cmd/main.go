package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/angeloszaimis/api-gateway/config"
	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/handler"
	"github.com/angeloszaimis/api-gateway/internal/healthcheck"
	"github.com/angeloszaimis/api-gateway/internal/httpmw"
	"github.com/angeloszaimis/api-gateway/internal/httpserver"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/monitoring"
	"github.com/angeloszaimis/api-gateway/internal/proxy"
	"github.com/angeloszaimis/api-gateway/internal/registry"
	"github.com/angeloszaimis/api-gateway/internal/tracing"
	"github.com/angeloszaimis/api-gateway/pkg/logger"
)

const metricsBufferSize = 1000

// gateway holds every long-lived component built at startup.
type gateway struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *registry.Registry
	pool      *backend.Pool
	checker   *healthcheck.Checker
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	prom      *metrics.Prometheus
	monitor   *monitoring.Aggregator
	handler   *handler.GatewayHandler
	info      *handler.InfoHandler
	limiter   *httpmw.IPLimiter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.OptionsFromConfig(cfg, handler.GatewayVersion))
	if err != nil {
		log.Error("Failed to initialise tracing", slog.Any("err", err))
		os.Exit(1)
	}

	// Background workers outlive the signal context so they can drain after
	// the HTTP server stops accepting requests.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	gw, err := newGateway(workerCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialise gateway", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := httpserver.New(cfg.Server.Address(), setupRouter(gw),
		httpserver.WithRequestTimeout(cfg.Proxy.RequestTimeoutDuration()))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	if err := gw.checker.Start(workerCtx, cfg.HealthCheck.IntervalDuration()); err != nil {
		log.Error("Failed to start health checker", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("API Gateway started",
		slog.String("addr", cfg.Server.Address()),
		slog.String("environment", cfg.Server.Environment),
		slog.Any("services", gw.registry.Names()))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting API gateway", slog.Any("err", err))
			exitCode = 1
		}
	}

	gw.checker.Stop()
	stopWorkers()
	<-gw.collector.Done()

	if err := shutdownTracing(context.Background()); err != nil {
		log.Error("Error flushing traces", slog.Any("err", err))
	}

	os.Exit(exitCode)
}

// newGateway builds the component graph. Goroutines it starts stop with ctx.
func newGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gateway, error) {
	reg, err := registry.FromConfig(cfg.Services)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus()
	collector := metrics.NewCollector(metricsBufferSize, log, metrics.WithExporter(prom))
	collector.Start(ctx)

	checker := healthcheck.New(reg, log,
		healthcheck.WithTimeout(cfg.HealthCheck.TimeoutDuration()),
		healthcheck.WithObserver(collector))

	breakers := circuitbreaker.NewRegistry(reg.Names(),
		circuitbreaker.SettingsFromConfig(cfg.CircuitBreaker), log,
		circuitbreaker.WithObserver(collector))

	pool := backend.NewPool(reg, cfg.Proxy.RequestTimeoutDuration())

	gw := &gateway{
		cfg:       cfg,
		logger:    log,
		registry:  reg,
		pool:      pool,
		checker:   checker,
		breakers:  breakers,
		collector: collector,
		prom:      prom,
		monitor:   monitoring.New(checker, breakers),
		handler:   handler.NewGatewayHandler(log, reg, breakers, proxy.New(pool, log), collector),
		info:      handler.NewInfoHandler(reg, cfg.Server.Environment),
	}

	if cfg.RateLimit.Enabled {
		gw.limiter = httpmw.NewIPLimiter(ctx, cfg.RateLimit.WindowDuration(), cfg.RateLimit.MaxRequests,
			httpmw.WithOnDenied(func(ip string) {
				prom.IncRateLimited()
				log.Warn("Rate limit exceeded", slog.String("client_ip", ip))
			}))
	}

	return gw, nil
}
