package portfolio

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/rs/zerolog"
)

// Store implements domain.PortfolioStore over a single executor
type Store struct {
	portfolio *Repository
	trades    *trading.TradeRepository
	snapshots *snapshots.Repository
}

// NewStore builds the repositories that make up the portfolio store on db
func NewStore(db database.Executor, log zerolog.Logger) *Store {
	return &Store{
		portfolio: NewRepository(db, log),
		trades:    trading.NewTradeRepository(db, log),
		snapshots: snapshots.NewRepository(db, log),
	}
}

// LoadPortfolio implements domain.PortfolioStore
func (s *Store) LoadPortfolio(ctx context.Context, now time.Time) (*domain.Portfolio, error) {
	return s.portfolio.GetOrCreate(ctx, now)
}

// SavePortfolio implements domain.PortfolioStore
func (s *Store) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	return s.portfolio.Update(ctx, p)
}

// AddHolding implements domain.PortfolioStore
func (s *Store) AddHolding(ctx context.Context, h domain.Holding) error {
	return s.portfolio.InsertHolding(ctx, h)
}

// RemoveHolding implements domain.PortfolioStore
func (s *Store) RemoveHolding(ctx context.Context, ticker string) error {
	return s.portfolio.DeleteHolding(ctx, ticker)
}

// AppendTrade implements domain.PortfolioStore
func (s *Store) AppendTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.trades.Create(ctx, t)
	return err
}

// AppendSnapshot implements domain.PortfolioStore
func (s *Store) AppendSnapshot(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.snapshots.Create(ctx, snap)
	return err
}

// UnitOfWork implements domain.UnitOfWork on the portfolio database.
// Nothing else may use db while fn runs: the ledger profile pins the pool to one connection.
type UnitOfWork struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewUnitOfWork creates a transactional unit of work on db
func NewUnitOfWork(db *sql.DB, log zerolog.Logger) *UnitOfWork {
	return &UnitOfWork{
		db:  db,
		log: log.With().Str("component", "portfolio_uow").Logger(),
	}
}

// WithinTx implements domain.UnitOfWork
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(store domain.PortfolioStore) error) error {
	return database.WithTransaction(ctx, u.db, func(tx *sql.Tx) error {
		return fn(NewStore(tx, u.log))
	})
}
