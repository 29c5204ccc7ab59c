// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/modules/portfolio"
	"github.com/aristath/rebalancer/internal/modules/prices"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/signals"
	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories on the opened databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.PortfolioDB == nil || container.HistoryDB == nil {
		return fmt.Errorf("container databases must be initialized first")
	}

	portfolioConn := container.PortfolioDB.Conn()

	container.PortfolioRepo = portfolio.NewRepository(portfolioConn, log)
	container.TradeRepo = trading.NewTradeRepository(portfolioConn, log)
	container.SnapshotRepo = snapshots.NewRepository(portfolioConn, log)
	container.SignalRepo = signals.NewRepository(portfolioConn, log)
	container.RunRepo = rebalancing.NewRunRepository(portfolioConn, log)

	container.PriceHistory = prices.NewHistoryDB(container.HistoryDB.Conn(), log)

	log.Info().Msg("Repositories initialized")

	return nil
}
