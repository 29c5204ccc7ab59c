// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/performance"
	"github.com/aristath/rebalancer/internal/modules/portfolio"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
)

// RunLockFile is the cross-process rebalance lock, relative to the data directory
const RunLockFile = "rebalance.lock"

// InitializeServices creates the engine, runner and supporting services
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	policy, err := cfg.StopLossPolicy()
	if err != nil {
		return err
	}
	container.StopLossPolicy = policy

	// The engine writes through one transaction per run on portfolio.db
	container.UnitOfWork = portfolio.NewUnitOfWork(container.PortfolioDB.Conn(), log)
	container.Engine = rebalancing.NewEngine(
		container.UnitOfWork,
		container.PriceHistory,
		policy,
		cfg.BuyBudget,
		log,
	)

	container.RunLock = rebalancing.NewRunLock(filepath.Join(cfg.DataDir, RunLockFile), log)
	container.Runner = rebalancing.NewRunner(
		container.SignalRepo,
		container.Engine,
		container.RunRepo,
		container.RunLock,
		cfg.LockTimeout,
		log,
	)

	container.PerformanceService = performance.NewService(container.PortfolioRepo, container.SnapshotRepo, log)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Client(ctx, cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			store,
			container.Databases(),
			cfg.DataDir,
			cfg.Backup.Prefix,
			cfg.Backup.Retention,
			log,
		)
	} else {
		log.Info().Msg("Backups disabled (no bucket configured)")
	}

	container.Scheduler = scheduler.New(log)

	log.Info().
		Str("buy_budget", cfg.BuyBudget.String()).
		Int("stop_loss_tiers", len(policy.Tiers())).
		Msg("Services initialized")

	return nil
}
