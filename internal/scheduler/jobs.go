package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// RebalanceRunner is the single-flight rebalance entry point shared with the HTTP trigger
type RebalanceRunner interface {
	Run(ctx context.Context) (*rebalancing.RunResult, error)
}

// RebalanceJob processes pending signals on a schedule
type RebalanceJob struct {
	runner  RebalanceRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewRebalanceJob creates the scheduled rebalance job
func NewRebalanceJob(runner RebalanceRunner, timeout time.Duration, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		runner:  runner,
		timeout: timeout,
		log:     log.With().Str("job", "rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run executes one rebalance. A run already in flight is skipped, not failed.
func (j *RebalanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.runner.Run(ctx)
	if errors.Is(err, rebalancing.ErrRebalanceInProgress) {
		j.log.Info().Msg("Rebalance already in progress, skipping tick")
		return nil
	}
	if err != nil {
		return err
	}

	event := j.log.Info().Str("run_id", result.RunID).Int("signals", result.SignalCount)
	if result.Report != nil {
		event = event.
			Int("sold_stop_loss", len(result.Report.SoldByStopLoss)).
			Int("sold_signal", len(result.Report.SoldBySignal)).
			Int("bought", len(result.Report.Bought)).
			Int("errors", len(result.Report.Errors))
	}
	event.Msg(result.Message)

	return nil
}

// Backuper creates and uploads one backup archive
type Backuper interface {
	CreateAndUpload(ctx context.Context) (string, error)
}

// BackupJob uploads a database backup on a schedule
type BackupJob struct {
	backups Backuper
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackupJob creates the scheduled backup job
func NewBackupJob(backups Backuper, timeout time.Duration, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups: backups,
		timeout: timeout,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates and uploads one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	key, err := j.backups.CreateAndUpload(ctx)
	if err != nil {
		return err
	}

	j.log.Info().Str("key", key).Msg("Scheduled backup stored")
	return nil
}
