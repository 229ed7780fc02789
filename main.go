package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/app"
	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/health"
	"github.com/Kocoro-lab/battery-analyst/internal/httpapi"
	"github.com/Kocoro-lab/battery-analyst/internal/logging"
	"github.com/Kocoro-lab/battery-analyst/internal/orchestrator"
	"github.com/Kocoro-lab/battery-analyst/internal/store"
	"github.com/Kocoro-lab/battery-analyst/internal/streaming"
	"github.com/Kocoro-lab/battery-analyst/internal/tracing"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default $ANALYST_CONFIG)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, level, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Hot-reload the log level when a config file is in use.
	if *configPath != "" || os.Getenv(config.EnvPrefix+"_CONFIG") != "" {
		w := config.NewWatcher(*configPath, logger)
		if _, err := w.Start(func(next *config.Config) {
			if logging.SetLevel(level, next.Logging.Level) {
				logger.Info("Log level updated", zap.String("level", next.Logging.Level))
			}
		}); err != nil {
			logger.Warn("Config watch disabled", zap.Error(err))
		}
	}

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing unavailable", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	circuitbreaker.StartMetricsCollection(ctx, 15*time.Second)

	events := streaming.NewManager(cfg.Server.EventBuffer, cfg.Server.EventRetention)
	go pruneEvents(ctx, events, cfg.Server.EventRetention)

	pipeline, err := app.Build(cfg, logger, orchestrator.WithObserver(streaming.NewObserver(events)))
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	archive, err := store.NewFromConfig(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to open report store", zap.Error(err))
	}
	defer archive.Close()

	hm := health.NewManager(30*time.Second, logger)
	registerCheckers(hm, pipeline, archive, cfg, logger)
	_ = hm.Start(ctx)
	defer hm.Stop()

	router := mux.NewRouter()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(router)
	api := router.NewRoute().Subrouter()
	api.Use(httpapi.RequireToken(cfg.Server.AuthToken))
	httpapi.NewHandler(ctx, pipeline.Orchestrator, archive, logger).WithRuns(events).RegisterRoutes(api)
	httpapi.NewStreamingHandler(events, logger).RegisterRoutes(api)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down analyst service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", zap.Error(err))
	}
}

// registerCheckers adds the LLM endpoint (critical) and the report store
// (non-critical) to hm.
func registerCheckers(hm *health.Manager, p *app.Pipeline, archive store.Store, cfg *config.Config, logger *zap.Logger) {
	if pinger, ok := p.Backend.(health.Pinger); ok {
		_ = hm.RegisterChecker(health.NewPingChecker("llm", true, 10*time.Second, pinger))
	}
	type breakerPinger interface {
		health.Pinger
		BreakerOpen() bool
	}
	if bp, ok := archive.(breakerPinger); ok {
		c := health.NewPingChecker("store-"+cfg.Store.Driver, false, 5*time.Second, bp).WithBreaker(bp.BreakerOpen)
		_ = hm.RegisterChecker(c)
	}
	logger.Info("Health checkers registered")
}

func pruneEvents(ctx context.Context, m *streaming.Manager, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Prune()
		}
	}
}
