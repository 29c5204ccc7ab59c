// Package portfolio provides persistence for the singleton portfolio and its holdings.
package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// holdingsColumns must match scanHolding()
const holdingsColumns = `ticker, name, sector, quantity, purchase_price, purchase_date`

// Repository handles the portfolio row and its holdings
type Repository struct {
	db  database.Executor // portfolio.db
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db database.Executor, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// GetOrCreate loads the singleton portfolio with its holdings.
// The row is inserted with default aggregates on first access.
func (r *Repository) GetOrCreate(ctx context.Context, now time.Time) (*domain.Portfolio, error) {
	p, err := r.get(ctx)
	if err != nil {
		return nil, err
	}

	if p == nil {
		p = domain.NewPortfolio(now)
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO portfolio
			(id, name, total_investment, current_value, realized_pl, total_trades, winning_trades, last_rebalanced, created_at)
			VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)
		`,
			p.ID, p.Name, p.TotalInvestment.String(), p.CurrentValue.String(), p.RealizedPL.String(),
			now.Unix(), now.Unix(),
		); err != nil {
			return nil, fmt.Errorf("failed to create portfolio: %w", err)
		}

		r.log.Info().Str("name", p.Name).Msg("Portfolio created")
	}

	holdings, err := r.GetHoldings(ctx)
	if err != nil {
		return nil, err
	}
	p.Holdings = holdings

	return p, nil
}

// Get loads the singleton portfolio with its holdings without writing.
// Before the first rebalance it returns an unsaved empty portfolio.
func (r *Repository) Get(ctx context.Context) (*domain.Portfolio, error) {
	p, err := r.get(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return domain.NewPortfolio(time.Time{}), nil
	}

	holdings, err := r.GetHoldings(ctx)
	if err != nil {
		return nil, err
	}
	p.Holdings = holdings

	return p, nil
}

func (r *Repository) get(ctx context.Context) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var totalInvestment, currentValue, realizedPL string
	var lastRebalanced int64

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, total_investment, current_value, realized_pl, total_trades, winning_trades, last_rebalanced
		FROM portfolio WHERE id = ?
	`, domain.PortfolioID).Scan(
		&p.ID, &p.Name, &totalInvestment, &currentValue, &realizedPL,
		&p.TotalTrades, &p.WinningTrades, &lastRebalanced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}

	if p.TotalInvestment, err = decimal.NewFromString(totalInvestment); err != nil {
		return nil, fmt.Errorf("invalid total investment: %w", err)
	}
	if p.CurrentValue, err = decimal.NewFromString(currentValue); err != nil {
		return nil, fmt.Errorf("invalid current value: %w", err)
	}
	if p.RealizedPL, err = decimal.NewFromString(realizedPL); err != nil {
		return nil, fmt.Errorf("invalid realized P/L: %w", err)
	}
	p.LastRebalanced = time.Unix(lastRebalanced, 0).UTC()

	return &p, nil
}

// Update persists the aggregate fields of the portfolio
func (r *Repository) Update(ctx context.Context, p *domain.Portfolio) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE portfolio SET
			total_investment = ?,
			current_value = ?,
			realized_pl = ?,
			total_trades = ?,
			winning_trades = ?,
			last_rebalanced = ?
		WHERE id = ?
	`,
		p.TotalInvestment.String(),
		p.CurrentValue.String(),
		p.RealizedPL.String(),
		p.TotalTrades,
		p.WinningTrades,
		p.LastRebalanced.Unix(),
		domain.PortfolioID,
	)
	if err != nil {
		return fmt.Errorf("failed to update portfolio: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check portfolio update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to update portfolio: not found")
	}

	return nil
}

// GetHoldings returns all holdings in the order they were opened
func (r *Repository) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+holdingsColumns+" FROM holdings ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	holdings := make([]domain.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}

	return holdings, nil
}

// InsertHolding opens a new position; a ticker can only be held once
func (r *Repository) InsertHolding(ctx context.Context, h domain.Holding) error {
	name := h.Name
	if name == "" {
		name = h.Ticker
	}
	sector := h.Sector
	if sector == "" {
		sector = domain.DefaultSector
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO holdings ("+holdingsColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		h.Ticker, name, sector, h.Quantity, h.PurchasePrice.String(), h.PurchaseDate.Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert holding %s: %w", h.Ticker, err)
	}

	return nil
}

// DeleteHolding closes a position
func (r *Repository) DeleteHolding(ctx context.Context, ticker string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM holdings WHERE ticker = ?", ticker)
	if err != nil {
		return fmt.Errorf("failed to delete holding %s: %w", ticker, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check holding delete: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to delete holding %s: not held", ticker)
	}

	return nil
}

func scanHolding(rows *sql.Rows) (domain.Holding, error) {
	var h domain.Holding
	var purchasePrice string
	var purchaseDate int64

	if err := rows.Scan(&h.Ticker, &h.Name, &h.Sector, &h.Quantity, &purchasePrice, &purchaseDate); err != nil {
		return domain.Holding{}, fmt.Errorf("failed to scan holding: %w", err)
	}

	var err error
	if h.PurchasePrice, err = decimal.NewFromString(purchasePrice); err != nil {
		return domain.Holding{}, fmt.Errorf("invalid purchase price for %s: %w", h.Ticker, err)
	}
	h.PurchaseDate = time.Unix(purchaseDate, 0).UTC()

	return h, nil
}
