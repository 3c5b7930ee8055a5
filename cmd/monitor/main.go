// Package main provides the standalone health monitor daemon. It probes the
// market data sources on the configured interval, records samples to
// ClickHouse, and logs alerts; run it next to the API server when probing
// should survive server restarts.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magickw/linkDAO-sub011/internal/config"
	"github.com/magickw/linkDAO-sub011/internal/health"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/market"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)
	logger := logging.GetGlobalLogger()

	// Connect to ClickHouse for samples and outcome rates
	logger.Info("Connecting to ClickHouse...")

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	// Redis carries the rate-API quota counters shared with the API server,
	// so standalone probing still respects the same budget.
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	// Market data sources under probe
	gasSource, err := market.NewEVMGasSource(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize gas fee source")
	}
	defer gasSource.Close()

	rateSource := market.NewHTTPRateSource(&cfg.Market)

	quota, err := market.NewRequestQuota(&market.RequestQuotaConfig{
		Redis:    redis.Client(),
		Total:    cfg.Market.RateQuotaTotal,
		Reserved: cfg.Market.RateQuotaReserved,
		Window:   cfg.Market.RateQuotaWindow,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize rate-API quota")
	}

	sampleRepo := storage.NewSampleRepository(clickhouse)
	outcomeRepo := storage.NewOutcomeRepository(clickhouse)

	monitor := health.NewMonitor(gasSource, rateSource, quota, sampleRepo, outcomeRepo, metrics.NoopRecorder{}, cfg)

	// Check for one-time run mode
	if len(os.Args) > 1 && os.Args[1] == "run" {
		logger.Info("Running a single probe sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		monitor.RunOnce(ctx)

		snapshot := monitor.Snapshot()
		out, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			logger.WithError(err).Fatal("Failed to encode snapshot")
		}
		os.Stdout.Write(append(out, '\n'))
		return
	}

	// Run the probe loop until interrupted
	logger.WithFields(map[string]interface{}{
		"interval": cfg.Monitor.Interval.String(),
		"chains":   cfg.Chains.Enabled,
	}).Info("Starting health monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down health monitor...")
	cancel()
	time.Sleep(time.Second) // Give time for in-flight probes
	logger.Info("Monitor stopped")
}
