// Package main is the entry point for the stop-loss rebalancer service.
// The service keeps one equity portfolio: it applies a profit-tiered stop-loss,
// executes buy and sell signals from an external queue and records the valuation.
//
// The application follows the same layering throughout:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/di"
	"github.com/aristath/rebalancer/internal/server"
	"github.com/aristath/rebalancer/pkg/logger"
)

// getEnv retrieves an environment variable value, returning a fallback if the variable
// is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// main orchestrates the startup sequence:
// 1. Loads configuration from environment variables and the optional strategy file
// 2. Initializes logging
// 3. Wires all dependencies via DI container (databases, repositories, services, jobs)
// 4. Starts the HTTP server and the cron scheduler
// 5. Waits for a shutdown signal and shuts down gracefully
//
// Two databases live under DATA_DIR:
// - portfolio.db: portfolio, holdings, trades, snapshots, signals, run history
// - history.db: daily price records used for price lookups
func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	version := getEnv("VERSION", "dev")
	log.Info().Str("version", version).Str("data_dir", cfg.DataDir).Msg("Starting rebalancer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Both databases must be closed so WAL checkpoints are written
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	// Integrity check before accepting work. A failure is logged; the scheduled run retries it.
	if err := container.Scheduler.RunNow(jobs.Maintenance); err != nil {
		log.Error().Err(err).Msg("Startup maintenance check failed")
	}

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Version:   version,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// The cron ticks and the HTTP trigger share one runner, so at most one rebalance is in flight
	container.Scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	// Stop the scheduler first; it waits for a running job to finish
	container.Scheduler.Stop()

	// In-flight requests may include a synchronous rebalance
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.RequestTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
