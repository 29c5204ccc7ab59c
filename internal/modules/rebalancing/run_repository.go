package rebalancing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RunStatus is the outcome of one runner invocation
type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusSkipped RunStatus = "SKIPPED"
)

// Run is one recorded rebalance attempt
type Run struct {
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Report      *domain.RebalanceReport `json:"report,omitempty"`
	ID          string                  `json:"id"`
	Status      RunStatus               `json:"status"`
	Error       string                  `json:"error,omitempty"`
	BuyTickers  []string                `json:"buy_tickers"`
	SellTickers []string                `json:"sell_tickers"`
	SignalCount int                     `json:"signal_count"`
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.New().String()
}

// RunRepository stores run history in portfolio.db
type RunRepository struct {
	db  database.Executor
	log zerolog.Logger
}

// NewRunRepository creates a new run history repository
func NewRunRepository(db database.Executor, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "rebalance_runs").Logger(),
	}
}

// Record inserts a finished run. The report is stored msgpack-encoded.
func (r *RunRepository) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}

	var report []byte
	if run.Report != nil {
		encoded, err := msgpack.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("failed to encode run report: %w", err)
		}
		report = encoded
	}

	buys, err := encodeTickers(run.BuyTickers)
	if err != nil {
		return err
	}
	sells, err := encodeTickers(run.SellTickers)
	if err != nil {
		return err
	}

	var runErr interface{}
	if run.Error != "" {
		runErr = run.Error
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO rebalance_runs
		(id, started_at, finished_at, status, signal_count, buy_tickers, sell_tickers, report, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.Unix(),
		run.FinishedAt.Unix(),
		string(run.Status),
		run.SignalCount,
		buys,
		sells,
		report,
		runErr,
	); err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}

	r.log.Debug().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Msg("Run recorded")

	return nil
}

// GetRecent returns up to limit runs, newest first
func (r *RunRepository) GetRecent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, signal_count, buy_tickers, sell_tickers, report, error
		FROM rebalance_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		var startedAt, finishedAt int64
		var status, buys, sells string
		var report []byte
		var runErr sql.NullString

		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &status, &run.SignalCount, &buys, &sells, &report, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.StartedAt = time.Unix(startedAt, 0).UTC()
		run.FinishedAt = time.Unix(finishedAt, 0).UTC()
		run.Status = RunStatus(status)
		run.Error = runErr.String

		if err := json.Unmarshal([]byte(buys), &run.BuyTickers); err != nil {
			return nil, fmt.Errorf("invalid buy tickers for run %s: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(sells), &run.SellTickers); err != nil {
			return nil, fmt.Errorf("invalid sell tickers for run %s: %w", run.ID, err)
		}

		if len(report) > 0 {
			var decoded domain.RebalanceReport
			if err := msgpack.Unmarshal(report, &decoded); err != nil {
				return nil, fmt.Errorf("invalid report for run %s: %w", run.ID, err)
			}
			run.Report = &decoded
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func encodeTickers(tickers []string) (string, error) {
	if tickers == nil {
		tickers = []string{}
	}
	data, err := json.Marshal(tickers)
	if err != nil {
		return "", fmt.Errorf("failed to encode tickers: %w", err)
	}
	return string(data), nil
}

// DeleteBefore removes runs started before cutoff and returns how many were removed
func (r *RunRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rebalance_runs WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	return deleted, nil
}
