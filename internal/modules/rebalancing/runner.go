package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/signals"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/rs/zerolog"
)

// ErrRebalanceInProgress is returned when another run holds the single-flight guard
var ErrRebalanceInProgress = errors.New("rebalance already in progress")

const (
	// MessageNoPendingSignals is returned when the queue is empty
	MessageNoPendingSignals = "No pending signals to process."
	// MessageSuccess is returned after a completed rebalance
	MessageSuccess = "Cron job executed successfully."
)

// SignalSource is the pending signal queue consumed by a run
type SignalSource interface {
	GetPending(ctx context.Context) ([]domain.Signal, error)
	MarkProcessed(ctx context.Context, ids []int64, at time.Time) error
}

// Rebalancer executes one rebalance
type Rebalancer interface {
	ExecuteRebalance(ctx context.Context, buyTickers, sellTickers []string) (domain.RebalanceReport, error)
}

// RunRecorder persists run history
type RunRecorder interface {
	Record(ctx context.Context, run Run) error
}

// RunResult is returned to the trigger caller
type RunResult struct {
	Report      *domain.RebalanceReport `json:"report,omitempty"`
	RunID       string                  `json:"run_id"`
	Message     string                  `json:"message"`
	SignalCount int                     `json:"signal_count"`
}

// Runner feeds pending signals to the engine, at most one run at a time
type Runner struct {
	signals     SignalSource
	engine      Rebalancer
	runs        RunRecorder
	lock        *RunLock // Optional cross-process guard
	lockTimeout time.Duration
	mu          sync.Mutex
	now         func() time.Time
	log         zerolog.Logger
}

// NewRunner creates a new rebalance runner.
// lock may be nil when only one process uses the data directory.
func NewRunner(
	signalSource SignalSource,
	engine Rebalancer,
	runs RunRecorder,
	lock *RunLock,
	lockTimeout time.Duration,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		signals:     signalSource,
		engine:      engine,
		runs:        runs,
		lock:        lock,
		lockTimeout: lockTimeout,
		now:         time.Now,
		log:         log.With().Str("service", "rebalance_runner").Logger(),
	}
}

// SetClock replaces the time source
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run processes every pending signal in one rebalance.
// On engine failure the signals stay PENDING for the next run.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrRebalanceInProgress
	}
	defer r.mu.Unlock()

	runID := NewRunID()
	startedAt := r.now()
	log := r.log.With().Str("run_id", runID).Logger()
	defer utils.OperationTimer("rebalance_run", log)()

	if r.lock != nil {
		if err := r.lock.Acquire(runID, r.lockTimeout); err != nil {
			if errors.Is(err, ErrLockHeld) {
				log.Warn().Err(err).Msg("Another process is rebalancing")
				return nil, ErrRebalanceInProgress
			}
			return nil, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer func() {
			if err := r.lock.Release(); err != nil {
				log.Error().Err(err).Msg("Failed to release run lock")
			}
		}()
	}

	pending, err := r.signals.GetPending(ctx)
	if err != nil {
		r.record(ctx, log, Run{ID: runID, StartedAt: startedAt, Status: RunStatusFailed, Error: err.Error()})
		return nil, fmt.Errorf("failed to fetch pending signals: %w", err)
	}

	if len(pending) == 0 {
		log.Info().Msg(MessageNoPendingSignals)
		r.record(ctx, log, Run{ID: runID, StartedAt: startedAt, Status: RunStatusSkipped})
		return &RunResult{RunID: runID, Message: MessageNoPendingSignals}, nil
	}

	batch := signals.Flatten(pending, log)
	run := Run{
		ID:          runID,
		StartedAt:   startedAt,
		SignalCount: len(batch.IDs),
		BuyTickers:  batch.BuyTickers,
		SellTickers: batch.SellTickers,
	}

	log.Info().
		Int("signals", len(batch.IDs)).
		Strs("buy", batch.BuyTickers).
		Strs("sell", batch.SellTickers).
		Msg("Starting rebalance")

	report, err := r.engine.ExecuteRebalance(ctx, batch.BuyTickers, batch.SellTickers)
	if err != nil {
		log.Error().Err(err).Msg("Rebalance failed")
		run.Status = RunStatusFailed
		run.Error = err.Error()
		r.record(ctx, log, run)
		return nil, fmt.Errorf("rebalance failed: %w", err)
	}

	run.Status = RunStatusSuccess
	run.Report = &report

	if err := r.signals.MarkProcessed(ctx, batch.IDs, r.now()); err != nil {
		// The rebalance is committed; the next run would replay these signals
		log.Error().Err(err).Ints64("signal_ids", batch.IDs).Msg("Failed to mark signals processed")
		run.Error = err.Error()
		r.record(ctx, log, run)
		return nil, fmt.Errorf("failed to mark signals processed: %w", err)
	}

	r.record(ctx, log, run)

	return &RunResult{
		RunID:       runID,
		Message:     MessageSuccess,
		Report:      &report,
		SignalCount: len(batch.IDs),
	}, nil
}

func (r *Runner) record(ctx context.Context, log zerolog.Logger, run Run) {
	if r.runs == nil {
		return
	}
	run.FinishedAt = r.now()
	if err := r.runs.Record(ctx, run); err != nil {
		log.Error().Err(err).Msg("Failed to record run history")
	}
}
