// Package trading provides the append-only trade ledger.
package trading

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// tradesColumns is the list of columns for the trades table
// Column order must match scanTrade()
const tradesColumns = `id, executed_at, side, ticker, quantity, price, realized_pl`

// TradeRepository handles trade database operations
type TradeRepository struct {
	db  database.Executor // portfolio.db - trades table
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db database.Executor, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// Create appends a trade to the ledger and returns its id
func (r *TradeRepository) Create(ctx context.Context, trade domain.Trade) (int64, error) {
	if !trade.Side.IsValid() {
		return 0, fmt.Errorf("failed to create trade: invalid side %q", trade.Side)
	}
	if trade.Quantity <= 0 {
		return 0, fmt.Errorf("failed to create trade: quantity must be positive, got %d", trade.Quantity)
	}

	// realized_pl is NULL for buys
	var realizedPL interface{}
	if trade.Side == domain.TradeSideSell && trade.RealizedPL.Valid {
		realizedPL = trade.RealizedPL.Decimal.String()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (executed_at, side, ticker, quantity, price, realized_pl)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		trade.Date.Unix(),
		string(trade.Side),
		trade.Ticker,
		trade.Quantity,
		trade.Price.String(),
		realizedPL,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create trade: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get trade id: %w", err)
	}

	r.log.Info().
		Str("ticker", trade.Ticker).
		Str("side", string(trade.Side)).
		Int64("quantity", trade.Quantity).
		Str("price", trade.Price.String()).
		Msg("Trade recorded")

	return id, nil
}

// GetRecent returns up to limit trades, newest first
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tradesColumns+" FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// GetByTicker returns every trade for a ticker in execution order
func (r *TradeRepository) GetByTicker(ctx context.Context, ticker string) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tradesColumns+" FROM trades WHERE ticker = ? ORDER BY executed_at, id", ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w", ticker, err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// Count returns the number of trades in the ledger
func (r *TradeRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

func scanTrade(rows *sql.Rows) (domain.Trade, error) {
	var t domain.Trade
	var executedAt int64
	var side, price string
	var realizedPL sql.NullString

	if err := rows.Scan(&t.ID, &executedAt, &side, &t.Ticker, &t.Quantity, &price, &realizedPL); err != nil {
		return domain.Trade{}, fmt.Errorf("failed to scan trade: %w", err)
	}

	t.Date = time.Unix(executedAt, 0).UTC()
	t.Side = domain.TradeSide(side)

	var err error
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Trade{}, fmt.Errorf("invalid price for trade %d: %w", t.ID, err)
	}
	if realizedPL.Valid {
		pl, err := decimal.NewFromString(realizedPL.String)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("invalid realized P/L for trade %d: %w", t.ID, err)
		}
		t.RealizedPL = decimal.NewNullDecimal(pl)
	}

	return t, nil
}
