// Package rebalancing provides the stop-loss rebalance engine and the runner that feeds it signals.
package rebalancing

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/stoploss"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MissingBuyPriceMessage is reported for buy candidates without a quote
const MissingBuyPriceMessage = "Could not fetch price for buy order."

// Engine decides what to sell and buy in one rebalance and applies it to the portfolio
type Engine struct {
	uow       domain.UnitOfWork
	prices    domain.PriceLookup
	policy    *stoploss.Policy
	buyBudget decimal.Decimal
	now       func() time.Time
	log       zerolog.Logger
}

// NewEngine creates a new rebalance engine
func NewEngine(
	uow domain.UnitOfWork,
	prices domain.PriceLookup,
	policy *stoploss.Policy,
	buyBudget decimal.Decimal,
	log zerolog.Logger,
) *Engine {
	if policy == nil {
		policy = stoploss.DefaultPolicy()
	}
	return &Engine{
		uow:       uow,
		prices:    prices,
		policy:    policy,
		buyBudget: buyBudget,
		now:       time.Now,
		log:       log.With().Str("service", "rebalance_engine").Logger(),
	}
}

// SetClock replaces the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// BuyBudget returns the cash committed to each new position
func (e *Engine) BuyBudget() decimal.Decimal {
	return e.buyBudget
}

type sale struct {
	holding domain.Holding
	price   decimal.Decimal
	reason  domain.SaleReason
}

// ExecuteRebalance applies stop-losses, sell signals and buy signals to the portfolio,
// revalues it and records a snapshot. All writes happen in one transaction; on error
// nothing is persisted and the report is discarded.
func (e *Engine) ExecuteRebalance(ctx context.Context, buyTickers, sellTickers []string) (domain.RebalanceReport, error) {
	report := domain.NewRebalanceReport()

	err := e.uow.WithinTx(ctx, func(store domain.PortfolioStore) error {
		now := e.now()

		p, err := store.LoadPortfolio(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to load portfolio: %w", err)
		}

		quotes, err := e.prices.GetLatestPrices(ctx, relevantTickers(p.Tickers(), buyTickers, sellTickers))
		if err != nil {
			return fmt.Errorf("failed to fetch prices: %w", err)
		}

		sales := e.markSales(p, quotes, sellTickers, &report)

		for _, s := range sales {
			if err := e.executeSale(ctx, store, p, s, now, &report); err != nil {
				return err
			}
		}

		for _, ticker := range buyTickers {
			if err := e.executeBuy(ctx, store, p, ticker, quotes, now, &report); err != nil {
				return err
			}
		}

		if err := store.SavePortfolio(ctx, p); err != nil {
			return fmt.Errorf("failed to save portfolio: %w", err)
		}

		finalValue, err := e.revalue(ctx, p)
		if err != nil {
			return err
		}

		p.CurrentValue = finalValue
		p.LastRebalanced = now
		if err := store.SavePortfolio(ctx, p); err != nil {
			return fmt.Errorf("failed to save portfolio valuation: %w", err)
		}

		if err := store.AppendSnapshot(ctx, domain.Snapshot{Date: now, Value: finalValue}); err != nil {
			return fmt.Errorf("failed to record snapshot: %w", err)
		}

		e.log.Info().
			Int("sold_stop_loss", len(report.SoldByStopLoss)).
			Int("sold_signal", len(report.SoldBySignal)).
			Int("bought", len(report.Bought)).
			Int("errors", len(report.Errors)).
			Str("value", finalValue.String()).
			Msg("Rebalance complete")

		return nil
	})
	if err != nil {
		return domain.RebalanceReport{}, err
	}

	return report, nil
}

// relevantTickers is the deduplicated union of holdings, buys and sells, first occurrence order
func relevantTickers(held, buys, sells []string) []string {
	seen := make(map[string]bool, len(held)+len(buys)+len(sells))
	out := make([]string, 0, len(held)+len(buys)+len(sells))
	for _, list := range [][]string{held, buys, sells} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// markSales runs the stop-loss pass then the signal-sell pass.
// A ticker marked by stop-loss is never re-marked by a signal.
func (e *Engine) markSales(p *domain.Portfolio, quotes map[string]domain.PriceQuote, sellTickers []string, report *domain.RebalanceReport) []sale {
	var sales []sale
	marked := make(map[string]bool)

	for _, h := range p.Holdings {
		q, ok := quotes[h.Ticker]
		if !ok {
			continue
		}

		sell, stopPrice, err := e.policy.ShouldSell(h.PurchasePrice, q.LatestClose)
		if err != nil {
			e.log.Warn().Err(err).Str("ticker", h.Ticker).Msg("Cannot evaluate stop-loss")
			report.Errors = append(report.Errors, domain.RebalanceError{Ticker: h.Ticker, Message: err.Error()})
			continue
		}
		if sell {
			e.log.Info().
				Str("ticker", h.Ticker).
				Str("price", q.LatestClose.String()).
				Str("stop_loss", stopPrice.String()).
				Msg("Stop-loss triggered")
			sales = append(sales, sale{holding: h, price: q.LatestClose, reason: domain.SaleReasonStopLoss})
			marked[h.Ticker] = true
		}
	}

	for _, ticker := range sellTickers {
		if marked[ticker] {
			continue
		}
		h, held := p.Holding(ticker)
		if !held {
			continue
		}
		q, ok := quotes[ticker]
		if !ok {
			continue
		}
		sales = append(sales, sale{holding: h, price: q.LatestClose, reason: domain.SaleReasonSignal})
		marked[ticker] = true
	}

	return sales
}

func (e *Engine) executeSale(ctx context.Context, store domain.PortfolioStore, p *domain.Portfolio, s sale, now time.Time, report *domain.RebalanceReport) error {
	h := s.holding
	qty := decimal.NewFromInt(h.Quantity)
	saleValue := qty.Mul(s.price)
	purchaseValue := h.CostBasis()
	tradePL := saleValue.Sub(purchaseValue)

	p.RealizedPL = p.RealizedPL.Add(tradePL)
	p.TotalInvestment = p.TotalInvestment.Sub(purchaseValue)
	p.TotalTrades++
	if tradePL.IsPositive() {
		p.WinningTrades++
	}

	if err := store.AppendTrade(ctx, domain.Trade{
		Date:       now,
		Side:       domain.TradeSideSell,
		Ticker:     h.Ticker,
		Quantity:   h.Quantity,
		Price:      s.price,
		RealizedPL: decimal.NewNullDecimal(tradePL),
	}); err != nil {
		return fmt.Errorf("failed to record sale of %s: %w", h.Ticker, err)
	}

	if err := store.RemoveHolding(ctx, h.Ticker); err != nil {
		return fmt.Errorf("failed to remove holding %s: %w", h.Ticker, err)
	}
	p.RemoveHolding(h.Ticker)

	if s.reason == domain.SaleReasonStopLoss {
		report.SoldByStopLoss = append(report.SoldByStopLoss, h.Ticker)
	} else {
		report.SoldBySignal = append(report.SoldBySignal, h.Ticker)
	}

	e.log.Info().
		Str("ticker", h.Ticker).
		Str("reason", string(s.reason)).
		Str("pl", tradePL.String()).
		Msg("Sold holding")

	return nil
}

func (e *Engine) executeBuy(ctx context.Context, store domain.PortfolioStore, p *domain.Portfolio, ticker string, quotes map[string]domain.PriceQuote, now time.Time, report *domain.RebalanceReport) error {
	if p.Holds(ticker) {
		return nil
	}

	q, ok := quotes[ticker]
	if !ok {
		report.Errors = append(report.Errors, domain.RebalanceError{Ticker: ticker, Message: MissingBuyPriceMessage})
		e.log.Warn().Str("ticker", ticker).Msg("No price for buy candidate")
		return nil
	}

	quantity := BuyQuantity(e.buyBudget, q.LatestClose)
	if quantity <= 0 {
		e.log.Debug().
			Str("ticker", ticker).
			Str("price", q.LatestClose.String()).
			Msg("Buy budget below one share, skipping")
		return nil
	}

	h := domain.Holding{
		Ticker:        ticker,
		Name:          ticker,
		Sector:        domain.DefaultSector,
		Quantity:      quantity,
		PurchasePrice: q.LatestClose,
		PurchaseDate:  now,
	}

	if err := store.AddHolding(ctx, h); err != nil {
		return fmt.Errorf("failed to add holding %s: %w", ticker, err)
	}
	if err := store.AppendTrade(ctx, domain.Trade{
		Date:     now,
		Side:     domain.TradeSideBuy,
		Ticker:   ticker,
		Quantity: quantity,
		Price:    q.LatestClose,
	}); err != nil {
		return fmt.Errorf("failed to record purchase of %s: %w", ticker, err)
	}

	p.AddHolding(h)
	p.TotalInvestment = p.TotalInvestment.Add(h.CostBasis())
	report.Bought = append(report.Bought, ticker)

	e.log.Info().
		Str("ticker", ticker).
		Int64("quantity", quantity).
		Str("price", q.LatestClose.String()).
		Msg("Bought holding")

	return nil
}

// revalue prices the post-trade holdings with a fresh lookup.
// Unpriced holdings are valued at their purchase price.
func (e *Engine) revalue(ctx context.Context, p *domain.Portfolio) (decimal.Decimal, error) {
	quotes, err := e.prices.GetLatestPrices(ctx, p.Tickers())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch revaluation prices: %w", err)
	}

	total := decimal.Zero
	for _, h := range p.Holdings {
		price := h.PurchasePrice
		if q, ok := quotes[h.Ticker]; ok {
			price = q.LatestClose
		}
		total = total.Add(price.Mul(decimal.NewFromInt(h.Quantity)))
	}

	return total, nil
}

// BuyQuantity returns floor(budget / price), or zero for a non-positive price
func BuyQuantity(budget, price decimal.Decimal) int64 {
	if !price.IsPositive() || !budget.IsPositive() {
		return 0
	}
	q, _ := budget.QuoRem(price, 0)
	return q.IntPart()
}
