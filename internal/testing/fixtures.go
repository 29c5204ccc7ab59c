package testing

import (
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/shopspring/decimal"
)

// FixtureTime is the clock used by fixtures and fake engines in tests
var FixtureTime = time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)

// NewHoldingFixture returns a holding bought at FixtureTime
func NewHoldingFixture(ticker string, quantity int64, purchasePrice string) domain.Holding {
	return domain.Holding{
		Ticker:        ticker,
		Name:          ticker,
		Sector:        domain.DefaultSector,
		Quantity:      quantity,
		PurchasePrice: decimal.RequireFromString(purchasePrice),
		PurchaseDate:  FixtureTime.AddDate(0, -1, 0),
	}
}

// NewPortfolioFixture returns a portfolio holding the given positions.
// TotalInvestment is set to the sum of their cost bases.
func NewPortfolioFixture(holdings ...domain.Holding) *domain.Portfolio {
	p := domain.NewPortfolio(FixtureTime.AddDate(0, 0, -1))
	for _, h := range holdings {
		p.AddHolding(h)
		p.TotalInvestment = p.TotalInvestment.Add(h.CostBasis())
	}
	return p
}

// NewQuoteFixture returns a quote with only a latest close
func NewQuoteFixture(ticker, latestClose string) domain.PriceQuote {
	return domain.PriceQuote{
		Ticker:       ticker,
		LatestClose:  decimal.RequireFromString(latestClose),
		DayChangePct: decimal.Zero,
	}
}

// NewEODFixtures returns consecutive daily bars ending at FixtureTime, oldest first
func NewEODFixtures(closes ...string) []domain.EODRecord {
	start := FixtureTime.AddDate(0, 0, -(len(closes) - 1))
	records := make([]domain.EODRecord, 0, len(closes))
	for i, c := range closes {
		price := decimal.RequireFromString(c)
		records = append(records, domain.EODRecord{
			Date:     time.Date(start.Year(), start.Month(), start.Day()+i, 0, 0, 0, 0, time.UTC),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			AdjClose: price,
			Volume:   1000,
		})
	}
	return records
}
