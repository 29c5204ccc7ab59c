// Package snapshots provides the portfolio valuation history.
package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles portfolio snapshot persistence
type Repository struct {
	db  database.Executor
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db database.Executor, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Create appends a valuation snapshot
func (r *Repository) Create(ctx context.Context, snapshot domain.Snapshot) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (taken_at, value) VALUES (?, ?)`,
		snapshot.Date.Unix(), snapshot.Value.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot id: %w", err)
	}

	r.log.Debug().
		Str("value", snapshot.Value.String()).
		Msg("Snapshot recorded")

	return id, nil
}

// GetRecent returns up to limit snapshots, newest first
func (r *Repository) GetRecent(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	return r.query(ctx, `
		SELECT id, taken_at, value FROM portfolio_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT ?
	`, limit)
}

// GetAll returns every snapshot in chronological order
func (r *Repository) GetAll(ctx context.Context) ([]domain.Snapshot, error) {
	return r.query(ctx, `SELECT id, taken_at, value FROM portfolio_snapshots ORDER BY taken_at, id`)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]domain.Snapshot, 0)
	for rows.Next() {
		var s domain.Snapshot
		var takenAt int64
		var value string

		if err := rows.Scan(&s.ID, &takenAt, &value); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		s.Date = time.Unix(takenAt, 0).UTC()
		if s.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("invalid value for snapshot %d: %w", s.ID, err)
		}

		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}
