package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/statarb-engine/internal/api"
	"github.com/irfndi/statarb-engine/internal/api/handlers"
	"github.com/irfndi/statarb-engine/internal/cache"
	"github.com/irfndi/statarb-engine/internal/config"
	"github.com/irfndi/statarb-engine/internal/database"
	"github.com/irfndi/statarb-engine/internal/logging"
	"github.com/irfndi/statarb-engine/internal/middleware"
	"github.com/irfndi/statarb-engine/internal/services"
	"github.com/irfndi/statarb-engine/internal/telemetry"
	"github.com/irfndi/statarb-engine/pkg/ccxt"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// run wires storage, market data, the engine and the HTTP API, then blocks
// until SIGINT or SIGTERM.
func run() error {
	// A missing .env is fine; the environment and config.yaml still apply.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = telemetry.ServiceName
	}

	if cfg.Telemetry.LogsEnabled {
		provider, err := logging.NewOTLPLoggerProvider(ctx, logging.OTLPConfig{
			Enabled:        true,
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			ServiceName:    serviceName,
			ServiceVersion: telemetry.ServiceVersion,
			Environment:    cfg.Environment,
		})
		if err != nil {
			logger.WithError(err).Warn("OTLP log export disabled")
		} else {
			logger.AddHook(logging.NewOTLPHook(provider.Logger(serviceName), logrus.InfoLevel))
			defer func() { _ = provider.Shutdown(context.Background()) }()
		}
	}

	tracing, err := telemetry.InitTelemetry(ctx, telemetry.TelemetryConfig{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRatio:  1.0,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	pool := database.NewTracedPool(db.Pool, telemetry.Tracer("database"))
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}
	pairRepo := database.NewActivePairRepository(pool)
	snapshotRepo := database.NewCandidateSnapshotRepository(pool)

	checks := map[string]handlers.HealthChecker{"database": db}

	var (
		klineCache    services.KlineCache
		snapshotCache *cache.RedisSnapshotCache
	)
	redisClient, err := database.NewRedisConnection(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis - continuing without cache")
	} else {
		defer redisClient.Close()
		prefix := redisClient.KeyPrefix()
		klineCache = cache.NewRedisKlineCache(redisClient.Client, prefix, cfg.MarketData.CacheTTL, logger)
		snapshotCache = cache.NewRedisSnapshotCache(redisClient.Client, prefix, cfg.Engine.SnapshotTTL)
		checks["redis"] = redisClient
	}

	market := services.NewMarketDataService(ccxt.NewClient(&cfg.CCXT), klineCache, cfg.MarketData, logger)
	checks["ccxt"] = market

	barsPerDay := cfg.MarketData.BarsPerDay()
	optimizer := services.NewResourceOptimizer(services.HostProbe{}, cfg.MarketData.MinWorkers, cfg.MarketData.MaxWorkers, logger)
	lifecycle := services.NewLifecycleManager(cfg.Lifecycle, cfg.MarketData.BarDuration().Hours(), pairRepo, logger)
	if cfg.Lifecycle.RestoreOnStartup {
		restored, err := lifecycle.Restore(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore open pairs: %w", err)
		}
		logger.WithField("open_pairs", restored).Info("Restored open pairs")
	}

	deps := services.EngineDeps{
		Market:    market,
		Enricher:  services.NewMetricsEnricher(market, optimizer, barsPerDay, logger),
		Generator: services.NewCandidateGenerator(cfg.Generator, barsPerDay, logger),
		Scanner:   services.NewMultiTimeframeScanner(cfg.Scanner, barsPerDay, logger),
		Lifecycle: lifecycle,
		Snapshots: snapshotRepo,
	}
	var latestCache handlers.SnapshotCache
	if snapshotCache != nil {
		deps.Cache = snapshotCache
		latestCache = snapshotCache
	}
	engine := services.NewEngine(cfg, deps, logger)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil {
			logger.WithError(err).Error("Engine stopped with error")
		}
	}()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Tracing(serviceName))
	api.SetupRoutes(router, api.Handlers{
		Health:     handlers.NewHealthHandler(checks, market.BreakerStates, telemetry.ServiceVersion),
		Candidates: handlers.NewCandidateHandler(engine, latestCache, snapshotRepo, logger),
		Pairs:      handlers.NewPairHandler(lifecycle, pairRepo, logger),
		Admin:      middleware.NewAdminMiddleware(cfg.Server.AdminAPIKey),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.LogStartup(logger, serviceName, telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	reason := "signal"
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		reason = err.Error()
		stop()
	}
	logging.LogShutdown(logger, serviceName, reason)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-engineDone

	logger.Info("Server exited")
	return nil
}
