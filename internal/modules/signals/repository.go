// Package signals provides the external BUY/SELL signal queue consumed by rebalance runs.
package signals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

var (
	// ErrNoTickers is returned when a signal has no usable tickers after normalization
	ErrNoTickers = errors.New("signal must contain at least one ticker")
	// ErrInvalidType is returned for a signal type other than BUY or SELL
	ErrInvalidType = errors.New("signal type must be BUY or SELL")
)

// signalsColumns must match scanSignal()
const signalsColumns = `id, side, tickers, status, processed_at, created_at, updated_at`

// Repository handles signal persistence
type Repository struct {
	db  database.Executor // portfolio.db - signals table
	log zerolog.Logger
}

// NewRepository creates a new signal repository
func NewRepository(db database.Executor, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "signals").Logger(),
	}
}

// Create stores a new PENDING signal.
// Tickers are trimmed and upper-cased; empty entries are dropped.
func (r *Repository) Create(ctx context.Context, side domain.TradeSide, tickers []string) (*domain.Signal, error) {
	side = domain.TradeSide(strings.ToUpper(strings.TrimSpace(string(side))))
	if !side.IsValid() {
		return nil, ErrInvalidType
	}

	normalized := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if n := domain.NormalizeTicker(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return nil, ErrNoTickers
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tickers: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (side, tickers, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(side), string(encoded), string(domain.SignalStatusPending), now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create signal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get signal id: %w", err)
	}

	r.log.Info().
		Int64("id", id).
		Str("type", string(side)).
		Strs("tickers", normalized).
		Msg("Signal created")

	return &domain.Signal{
		ID:        id,
		Side:      side,
		Tickers:   normalized,
		Status:    domain.SignalStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetPending returns every PENDING signal in creation order
func (r *Repository) GetPending(ctx context.Context) ([]domain.Signal, error) {
	return r.query(ctx,
		"SELECT "+signalsColumns+" FROM signals WHERE status = ? ORDER BY created_at, id",
		string(domain.SignalStatusPending))
}

// List returns up to limit signals, newest first, optionally filtered by status
func (r *Repository) List(ctx context.Context, status domain.SignalStatus, limit int) ([]domain.Signal, error) {
	if status == "" {
		return r.query(ctx,
			"SELECT "+signalsColumns+" FROM signals ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	}
	return r.query(ctx,
		"SELECT "+signalsColumns+" FROM signals WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		string(status), limit)
}

// MarkProcessed transitions the given signals to PROCESSED
func (r *Repository) MarkProcessed(ctx context.Context, ids []int64, at time.Time) error {
	return r.setStatus(ctx, ids, domain.SignalStatusProcessed, at)
}

// MarkFailed transitions the given signals to FAILED
func (r *Repository) MarkFailed(ctx context.Context, ids []int64, at time.Time) error {
	return r.setStatus(ctx, ids, domain.SignalStatusFailed, at)
}

func (r *Repository) setStatus(ctx context.Context, ids []int64, status domain.SignalStatus, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := []interface{}{string(status), at.Unix(), at.Unix()}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"UPDATE signals SET status = ?, processed_at = ?, updated_at = ? WHERE id IN (%s)",
		strings.Join(placeholders, ","))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark signals %s: %w", status, err)
	}

	rows, _ := result.RowsAffected()
	r.log.Info().
		Str("status", string(status)).
		Int("requested", len(ids)).
		Int64("updated", rows).
		Msg("Signals updated")

	return nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Signal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	signals := make([]domain.Signal, 0)
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return signals, nil
}

func scanSignal(rows *sql.Rows) (domain.Signal, error) {
	var s domain.Signal
	var side, tickers, status string
	var processedAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := rows.Scan(&s.ID, &side, &tickers, &status, &processedAt, &createdAt, &updatedAt); err != nil {
		return domain.Signal{}, fmt.Errorf("failed to scan signal: %w", err)
	}

	s.Side = domain.TradeSide(side)
	s.Status = domain.SignalStatus(status)
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0).UTC()
		s.ProcessedAt = &t
	}

	// A ticker column that is not a JSON array of strings marks the signal malformed
	var decoded []string
	if err := json.Unmarshal([]byte(tickers), &decoded); err != nil || decoded == nil {
		s.Malformed = true
		s.Tickers = []string{}
	} else {
		s.Tickers = decoded
	}

	return s, nil
}
