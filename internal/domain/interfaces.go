package domain

import (
	"context"
	"time"
)

// PriceLookup defines the batched latest-price query used by the rebalancer.
// Tickers with no stored data are omitted from the result; that is not an error.
type PriceLookup interface {
	GetLatestPrices(ctx context.Context, tickers []string) (map[string]PriceQuote, error)
}

// PortfolioStore defines the persistence operations a rebalance performs
// This interface breaks circular dependencies between portfolio and rebalancing
type PortfolioStore interface {
	// LoadPortfolio returns the singleton portfolio with its holdings,
	// creating an empty one stamped with now on first access
	LoadPortfolio(ctx context.Context, now time.Time) (*Portfolio, error)

	// SavePortfolio persists the aggregate fields (not holdings)
	SavePortfolio(ctx context.Context, p *Portfolio) error

	// Holdings are created on buy and destroyed on sell
	AddHolding(ctx context.Context, h Holding) error
	RemoveHolding(ctx context.Context, ticker string) error

	// Append-only logs
	AppendTrade(ctx context.Context, t Trade) error
	AppendSnapshot(ctx context.Context, s Snapshot) error
}

// UnitOfWork runs fn against a PortfolioStore inside a single transaction.
// If fn returns an error nothing it wrote is kept.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(store PortfolioStore) error) error
}
