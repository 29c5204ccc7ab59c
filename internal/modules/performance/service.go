// Package performance derives portfolio analytics from valuation snapshots and trade statistics.
package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/pkg/formulas"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MovingAveragePeriod is the number of snapshots averaged for the value trend
const MovingAveragePeriod = 5

// PortfolioReader loads the portfolio aggregate
type PortfolioReader interface {
	Get(ctx context.Context) (*domain.Portfolio, error)
}

// SnapshotReader loads valuation history in chronological order
type SnapshotReader interface {
	GetAll(ctx context.Context) ([]domain.Snapshot, error)
}

// Summary is the performance overview of the portfolio
type Summary struct {
	LastRebalanced  time.Time       `json:"last_rebalanced"`
	MovingAverage   *float64        `json:"moving_average,omitempty"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	RealizedPL      decimal.Decimal `json:"realized_pl"`
	UnrealizedPL    decimal.Decimal `json:"unrealized_pl"`
	WinRate         decimal.Decimal `json:"win_rate"`
	TotalTrades     int64           `json:"total_trades"`
	WinningTrades   int64           `json:"winning_trades"`
	SnapshotCount   int             `json:"snapshot_count"`
	MeanReturn      float64         `json:"mean_return"`
	ReturnStdDev    float64         `json:"return_std_dev"`
	MaxDrawdown     float64         `json:"max_drawdown"`
}

// Service computes performance summaries
type Service struct {
	portfolio PortfolioReader
	snapshots SnapshotReader
	log       zerolog.Logger
}

// NewService creates a new performance service
func NewService(portfolio PortfolioReader, snapshots SnapshotReader, log zerolog.Logger) *Service {
	return &Service{
		portfolio: portfolio,
		snapshots: snapshots,
		log:       log.With().Str("service", "performance").Logger(),
	}
}

// Summary computes the current performance overview
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	p, err := s.portfolio.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}

	history, err := s.snapshots.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	values := make([]float64, len(history))
	for i, snap := range history {
		values[i] = snap.Value.InexactFloat64()
	}
	returns := formulas.CalculateReturns(values)

	summary := &Summary{
		LastRebalanced:  p.LastRebalanced,
		CurrentValue:    p.CurrentValue,
		TotalInvestment: p.TotalInvestment,
		RealizedPL:      p.RealizedPL,
		UnrealizedPL:    p.CurrentValue.Sub(p.TotalInvestment),
		WinRate:         p.WinRate(),
		TotalTrades:     p.TotalTrades,
		WinningTrades:   p.WinningTrades,
		SnapshotCount:   len(history),
		MeanReturn:      formulas.Mean(returns),
		ReturnStdDev:    formulas.StdDev(returns),
		MaxDrawdown:     formulas.MaxDrawdown(values),
		MovingAverage:   formulas.CalculateSMA(values, MovingAveragePeriod),
	}

	s.log.Debug().
		Int("snapshots", len(history)).
		Float64("max_drawdown", summary.MaxDrawdown).
		Msg("Performance summary computed")

	return summary, nil
}
