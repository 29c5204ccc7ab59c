// Package prices provides end-of-day price history and latest-price lookups.
package prices

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// GetLatestPrices returns the latest and previous close for every ticker with stored data.
// Tickers without data are omitted; an empty request returns an empty map without querying.
func (h *HistoryDB) GetLatestPrices(ctx context.Context, tickers []string) (map[string]domain.PriceQuote, error) {
	result := make(map[string]domain.PriceQuote, len(tickers))
	if len(tickers) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(tickers))
	args := make([]interface{}, len(tickers))
	for i, t := range tickers {
		placeholders[i] = "?"
		args[i] = t
	}

	query := fmt.Sprintf(`
		SELECT symbol, close, rn FROM (
			SELECT symbol, close,
				ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY date DESC) AS rn
			FROM eod_prices
			WHERE symbol IN (%s)
		)
		WHERE rn <= 2
		ORDER BY symbol, rn
	`, strings.Join(placeholders, ","))

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		var closePrice decimal.Decimal
		var rn int

		if err := rows.Scan(&symbol, &closePrice, &rn); err != nil {
			return nil, fmt.Errorf("failed to scan latest price: %w", err)
		}

		quote := result[symbol]
		if rn == 1 {
			quote.Ticker = symbol
			quote.LatestClose = closePrice
		} else {
			quote.PreviousClose = decimal.NullDecimal{Decimal: closePrice, Valid: true}
		}
		result[symbol] = quote
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest prices: %w", err)
	}

	for symbol, quote := range result {
		quote.DayChangePct = DayChangePercent(quote.LatestClose, quote.PreviousClose)
		result[symbol] = quote
	}

	h.log.Debug().
		Int("requested", len(tickers)).
		Int("found", len(result)).
		Msg("Latest prices loaded")

	return result, nil
}

// DayChangePercent returns (latest - previous) / previous * 100, or zero when previous is missing or zero
func DayChangePercent(latest decimal.Decimal, previous decimal.NullDecimal) decimal.Decimal {
	if !previous.Valid || previous.Decimal.IsZero() {
		return decimal.Zero
	}
	return latest.Sub(previous.Decimal).Div(previous.Decimal).Mul(hundred)
}

// UpsertEOD inserts or replaces daily bars for a symbol in a single transaction
func (h *HistoryDB) UpsertEOD(ctx context.Context, symbol string, records []domain.EODRecord) error {
	symbol = domain.NormalizeTicker(symbol)
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO symbols (symbol, name) VALUES (?, ?) ON CONFLICT(symbol) DO NOTHING`,
		symbol, symbol,
	); err != nil {
		return fmt.Errorf("failed to register symbol %s: %w", symbol, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO eod_prices
		(symbol, date, open, high, low, close, adj_close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare eod insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if !r.Close.IsPositive() {
			return fmt.Errorf("invalid close %s for %s on %s", r.Close, symbol, r.Date.Format(dateLayout))
		}

		adjClose := r.AdjClose
		if adjClose.IsZero() {
			adjClose = r.Close
		}

		if _, err := stmt.ExecContext(ctx,
			symbol,
			r.Date.UTC().Format(dateLayout),
			r.Open.String(),
			r.High.String(),
			r.Low.String(),
			r.Close.String(),
			adjClose.String(),
			r.Volume,
		); err != nil {
			return fmt.Errorf("failed to insert eod for %s on %s: %w", symbol, r.Date.Format(dateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit eod import: %w", err)
	}

	h.log.Info().
		Str("symbol", symbol).
		Int("records", len(records)).
		Msg("EOD prices imported")

	return nil
}

// GetHistory returns up to limit daily bars for a symbol, newest first
func (h *HistoryDB) GetHistory(ctx context.Context, symbol string, limit int) ([]domain.EODRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, adj_close, volume
		FROM eod_prices
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query eod history: %w", err)
	}
	defer rows.Close()

	var records []domain.EODRecord
	for rows.Next() {
		var date string
		var open, high, low, adjClose decimal.NullDecimal
		var volume sql.NullInt64
		var r domain.EODRecord

		if err := rows.Scan(&date, &open, &high, &low, &r.Close, &adjClose, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan eod record: %w", err)
		}

		parsed, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("invalid eod date %q for %s: %w", date, symbol, err)
		}
		r.Date = parsed
		r.Open = open.Decimal
		r.High = high.Decimal
		r.Low = low.Decimal
		r.AdjClose = adjClose.Decimal
		r.Volume = volume.Int64

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating eod history: %w", err)
	}

	return records, nil
}

// PruneBefore deletes daily bars dated before cutoff.
// The two most recent bars of every symbol are always kept so price lookups keep a latest and previous close.
func (h *HistoryDB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := h.db.ExecContext(ctx, `
		DELETE FROM eod_prices
		WHERE date < ?
		  AND date < (
			SELECT p.date FROM eod_prices p
			WHERE p.symbol = eod_prices.symbol
			ORDER BY p.date DESC
			LIMIT 1 OFFSET 1
		  )
	`, cutoff.UTC().Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune eod prices: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned eod prices: %w", err)
	}
	return deleted, nil
}
