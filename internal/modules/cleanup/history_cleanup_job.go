// Package cleanup provides data retention jobs.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one cleanup pass
const DefaultTimeout = 10 * time.Minute

// PricePruner deletes daily bars older than a cutoff
type PricePruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunPruner deletes rebalance runs older than a cutoff
type RunPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryCleanupJob trims price history and run history to their retention windows.
// A retention of zero keeps that history forever.
type HistoryCleanupJob struct {
	prices         PricePruner
	runs           RunPruner
	priceRetention time.Duration
	runRetention   time.Duration
	now            func() time.Time
	log            zerolog.Logger
}

// NewHistoryCleanupJob creates a new history cleanup job
func NewHistoryCleanupJob(prices PricePruner, runs RunPruner, priceRetention, runRetention time.Duration, log zerolog.Logger) *HistoryCleanupJob {
	return &HistoryCleanupJob{
		prices:         prices,
		runs:           runs,
		priceRetention: priceRetention,
		runRetention:   runRetention,
		now:            time.Now,
		log:            log.With().Str("job", "history_cleanup").Logger(),
	}
}

// SetClock replaces the time source
func (j *HistoryCleanupJob) SetClock(now func() time.Time) {
	j.now = now
}

// Name returns the job name for scheduler
func (j *HistoryCleanupJob) Name() string {
	return "history_cleanup"
}

// Run executes the cleanup job. Both prunes are attempted even if the first fails.
func (j *HistoryCleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	j.log.Info().Msg("Starting history cleanup job")

	now := j.now()
	errors := 0

	if j.priceRetention > 0 {
		deleted, err := j.prices.PruneBefore(ctx, now.Add(-j.priceRetention))
		if err != nil {
			j.log.Error().Err(err).Msg("Failed to prune price history")
			errors++
		} else {
			j.log.Info().Int64("rows_deleted", deleted).Msg("Price history pruned")
		}
	}

	if j.runRetention > 0 {
		deleted, err := j.runs.DeleteBefore(ctx, now.Add(-j.runRetention))
		if err != nil {
			j.log.Error().Err(err).Msg("Failed to prune run history")
			errors++
		} else {
			j.log.Info().Int64("rows_deleted", deleted).Msg("Run history pruned")
		}
	}

	if errors > 0 {
		return fmt.Errorf("cleanup completed with %d errors", errors)
	}

	j.log.Info().Msg("History cleanup job completed")
	return nil
}
