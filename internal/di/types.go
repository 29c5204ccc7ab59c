/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the HTTP server for access to services.
 */
package di

import (
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/cleanup"
	"github.com/aristath/rebalancer/internal/modules/performance"
	"github.com/aristath/rebalancer/internal/modules/portfolio"
	"github.com/aristath/rebalancer/internal/modules/prices"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/signals"
	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/aristath/rebalancer/internal/modules/stoploss"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Databases:
 *   - portfolio.db: portfolio aggregate, holdings, trades, snapshots, signals and run history
 *   - history.db: daily price records
 */
type Container struct {
	// Databases
	PortfolioDB *database.DB
	HistoryDB   *database.DB

	// Repositories
	PortfolioRepo *portfolio.Repository
	TradeRepo     *trading.TradeRepository
	SnapshotRepo  *snapshots.Repository
	SignalRepo    *signals.Repository
	RunRepo       *rebalancing.RunRepository
	PriceHistory  *prices.HistoryDB

	// Services
	UnitOfWork         *portfolio.UnitOfWork
	StopLossPolicy     *stoploss.Policy
	Engine             *rebalancing.Engine
	RunLock            *rebalancing.RunLock
	Runner             *rebalancing.Runner
	PerformanceService *performance.Service
	BackupService      *reliability.BackupService // nil when no backup bucket is configured
	Scheduler          *scheduler.Scheduler
}

// JobInstances holds the scheduled jobs so they can also be run on demand
type JobInstances struct {
	Rebalance      *scheduler.RebalanceJob
	Maintenance    *reliability.MaintenanceJob
	HistoryCleanup *cleanup.HistoryCleanupJob
	Backup         *scheduler.BackupJob // nil when backups are disabled
}

// Databases returns every open database keyed by name
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 2)
	if c.PortfolioDB != nil {
		dbs[c.PortfolioDB.Name()] = c.PortfolioDB
	}
	if c.HistoryDB != nil {
		dbs[c.HistoryDB.Name()] = c.HistoryDB
	}
	return dbs
}

// Close closes every open database. The first error is returned.
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.PortfolioDB, c.HistoryDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
