package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		Port:                8080,
		BuyBudget:           decimal.NewFromInt(1000),
		LockTimeout:         time.Minute,
		RebalanceSchedule:   "*/15 * * * *",
		MaintenanceSchedule: "@daily",
		Backup:              &config.BackupConfig{},
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	require.NotNil(t, jobs)
	t.Cleanup(func() { _ = container.Close() })

	assert.NotNil(t, container.PortfolioRepo)
	assert.NotNil(t, container.SignalRepo)
	assert.NotNil(t, container.PriceHistory)
	assert.NotNil(t, container.Engine)
	assert.NotNil(t, container.Runner)
	assert.NotNil(t, container.PerformanceService)
	assert.Nil(t, container.BackupService, "no bucket configured")

	assert.NotNil(t, jobs.Rebalance)
	assert.NotNil(t, jobs.Maintenance)
	assert.NotNil(t, jobs.HistoryCleanup)
	assert.Nil(t, jobs.Backup)
	assert.ElementsMatch(t, []string{"rebalance", "database_maintenance", "history_cleanup"}, container.Scheduler.Jobs())

	assert.Len(t, container.Databases(), 2)
}

func TestWire_UnscheduledJobsStillBuilt(t *testing.T) {
	cfg := testConfig(t)
	cfg.RebalanceSchedule = ""
	cfg.MaintenanceSchedule = ""

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.Empty(t, container.Scheduler.Jobs())
	assert.NotNil(t, jobs.Rebalance)
	assert.NotNil(t, jobs.HistoryCleanup)
}

func TestWire_InvalidStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy = &config.StrategyConfig{
		StopLoss: config.StopLossConfig{
			Tiers: []config.TierConfig{{Threshold: 10, LockIn: 5}, {Threshold: 10, LockIn: 1}},
		},
	}

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, container)
	assert.Nil(t, jobs)
}

func TestWire_RunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	container, _, err := Wire(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	require.NoError(t, container.PriceHistory.UpsertEOD(ctx, "AAPL", testingpkg.NewEODFixtures("190", "200")))
	_, err = container.SignalRepo.Create(ctx, domain.TradeSideBuy, []string{"aapl", "MISSING"})
	require.NoError(t, err)

	result, err := container.Runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, rebalancing.MessageSuccess, result.Message)
	require.NotNil(t, result.Report)
	assert.Equal(t, []string{"AAPL"}, result.Report.Bought)
	assert.Equal(t, []domain.RebalanceError{{Ticker: "MISSING", Message: rebalancing.MissingBuyPriceMessage}}, result.Report.Errors)

	holdings, err := container.PortfolioRepo.GetHoldings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(5), holdings[0].Quantity)

	pending, err := container.SignalRepo.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	runs, err := container.RunRepo.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rebalancing.RunStatusSuccess, runs[0].Status)

	assert.NoFileExists(t, filepath.Join(cfg.DataDir, RunLockFile), "lock released after the run")
}
