// Package main provides the API server entry point for the payment
// prioritization service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magickw/linkDAO-sub011/internal/api"
	"github.com/magickw/linkDAO-sub011/internal/checkout"
	"github.com/magickw/linkDAO-sub011/internal/circuitbreaker"
	"github.com/magickw/linkDAO-sub011/internal/config"
	"github.com/magickw/linkDAO-sub011/internal/health"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/market"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/pricing"
	"github.com/magickw/linkDAO-sub011/internal/scoring"
	"github.com/magickw/linkDAO-sub011/internal/settlement"
	"github.com/magickw/linkDAO-sub011/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Market data sources
	gasSource, err := market.NewEVMGasSource(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize gas fee source")
	}
	defer gasSource.Close()

	rateSource := market.NewHTTPRateSource(&cfg.Market)

	// Metrics recorder backing the /metrics endpoint
	recorder := metrics.NewPrometheusRecorder()

	// Shared cache, rate-API request quota and market snapshot
	cacheService := storage.NewCacheService(redis, cfg.Market.SnapshotTTL)
	quota, err := market.NewRequestQuota(&market.RequestQuotaConfig{
		Redis:    redis.Client(),
		Total:    cfg.Market.RateQuotaTotal,
		Reserved: cfg.Market.RateQuotaReserved,
		Window:   cfg.Market.RateQuotaWindow,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize rate-API quota")
	}
	snapshots := market.NewSnapshotService(gasSource, rateSource, cacheService, quota, recorder, cfg)

	// Repositories
	orderRepo := storage.NewOrderRepository(postgres)
	preferenceRepo := storage.NewPreferenceRepository(postgres)
	outcomeRepo := storage.NewOutcomeRepository(clickhouse)
	sampleRepo := storage.NewSampleRepository(clickhouse)
	sessionStore := storage.NewSessionStore(cacheService)

	// Scoring engine
	logger.Info("Initializing services...")

	estimator := pricing.NewEstimator(cfg)
	preferences := scoring.NewPreferenceTracker(preferenceRepo, cacheService)
	weights := scoring.Weights{
		Cost:         cfg.Scoring.CostWeight,
		Preference:   cfg.Scoring.PreferenceWeight,
		Availability: cfg.Scoring.AvailabilityWeight,
		Network:      cfg.Scoring.NetworkWeight,
	}
	engine := scoring.NewEngine(estimator, scoring.NewAvailabilityChecker(), preferences, weights)

	// Settlement backends behind circuit breakers
	breakers := circuitbreaker.NewManager()
	escrow := settlement.WithBreaker(settlement.NewEscrowBackend(&cfg.Settlement), breakers, recorder)
	card := settlement.WithBreaker(settlement.NewCardBackend(&cfg.Settlement), breakers, recorder)

	// Checkout orchestration
	events := checkout.NewEventHub()
	deps := checkout.Deps{
		Orders:      orderRepo,
		Sessions:    sessionStore,
		Outcomes:    outcomeRepo,
		Prioritizer: engine,
		Snapshots:   snapshots,
		Usage:       preferences,
		Escrow:      escrow,
		Card:        card,
		Events:      events,
		Recorder:    recorder,
	}
	orchestrator := checkout.NewOrchestrator(deps, cfg.Checkout)
	reconciler := checkout.NewReconciler(deps, cacheService, cfg.Checkout)

	// Health monitor
	monitor := health.NewMonitor(gasSource, rateSource, quota, sampleRepo, outcomeRepo, recorder, cfg)

	logger.Info("Services initialized")

	// Background loops stop when the root context is cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(ctx)
	go monitor.Run(ctx)

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimit:       cfg.RateLimit,
	}

	server := api.NewServer(serverConfig, orchestrator, orchestrator, monitor, events)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
