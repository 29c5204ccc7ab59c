// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/cleanup"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
)

// BackupTimeout bounds one scheduled backup upload
const BackupTimeout = 30 * time.Minute

// RegisterJobs creates the scheduled jobs and registers those with a schedule.
// Returns JobInstances for manual triggering.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Scheduler == nil {
		return nil, fmt.Errorf("container services must be initialized first")
	}

	instances := &JobInstances{}

	// The scheduled tick shares the runner, and so the single-flight guard, with the HTTP trigger
	instances.Rebalance = scheduler.NewRebalanceJob(container.Runner, cfg.LockTimeout, log)
	if err := container.Scheduler.AddJob(cfg.RebalanceSchedule, instances.Rebalance); err != nil {
		return nil, fmt.Errorf("failed to register rebalance job: %w", err)
	}

	instances.Maintenance = reliability.NewMaintenanceJob(container.Databases(), cfg.DataDir, log)
	if err := container.Scheduler.AddJob(cfg.MaintenanceSchedule, instances.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	// Retention shares the maintenance window
	instances.HistoryCleanup = cleanup.NewHistoryCleanupJob(
		container.PriceHistory,
		container.RunRepo,
		cfg.PriceRetention,
		cfg.RunRetention,
		log,
	)
	if err := container.Scheduler.AddJob(cfg.MaintenanceSchedule, instances.HistoryCleanup); err != nil {
		return nil, fmt.Errorf("failed to register history cleanup job: %w", err)
	}

	if container.BackupService != nil {
		instances.Backup = scheduler.NewBackupJob(container.BackupService, BackupTimeout, log)
		if err := container.Scheduler.AddJob(cfg.Backup.Schedule, instances.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	log.Info().Strs("scheduled", container.Scheduler.Jobs()).Msg("Jobs registered")

	return instances, nil
}
