// Package domain provides core domain models and types.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioID is the fixed key of the single portfolio aggregate
const PortfolioID int64 = 1

// DefaultPortfolioName is used when the portfolio is created on first access
const DefaultPortfolioName = "ML Model Portfolio"

// DefaultSector is assigned to holdings created by the rebalancer
const DefaultSector = "Unclassified"

// TradeSide represents the direction of a trade or signal
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// IsValid reports whether the side is BUY or SELL
func (s TradeSide) IsValid() bool {
	return s == TradeSideBuy || s == TradeSideSell
}

// SignalStatus is the lifecycle state of a signal
type SignalStatus string

const (
	SignalStatusPending   SignalStatus = "PENDING"
	SignalStatusProcessed SignalStatus = "PROCESSED"
	SignalStatusFailed    SignalStatus = "FAILED"
)

// IsValid reports whether the status is one of the known values
func (s SignalStatus) IsValid() bool {
	switch s {
	case SignalStatusPending, SignalStatusProcessed, SignalStatusFailed:
		return true
	}
	return false
}

// SaleReason records why a holding was marked for sale
type SaleReason string

const (
	SaleReasonStopLoss SaleReason = "STOP-LOSS"
	SaleReasonSignal   SaleReason = "SIGNAL"
)

// Holding is one currently-owned position
type Holding struct {
	PurchaseDate  time.Time       `json:"purchase_date"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Sector        string          `json:"sector"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Quantity      int64           `json:"quantity"`
}

// CostBasis returns quantity × purchase price
func (h Holding) CostBasis() decimal.Decimal {
	return h.PurchasePrice.Mul(decimal.NewFromInt(h.Quantity))
}

// Portfolio is the single portfolio aggregate with its holdings
type Portfolio struct {
	LastRebalanced  time.Time       `json:"last_rebalanced"`
	Name            string          `json:"name"`
	Holdings        []Holding       `json:"holdings"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	RealizedPL      decimal.Decimal `json:"realized_pl"`
	ID              int64           `json:"id"`
	TotalTrades     int64           `json:"total_trades"`
	WinningTrades   int64           `json:"winning_trades"`
}

// NewPortfolio returns an empty portfolio as created on first access
func NewPortfolio(now time.Time) *Portfolio {
	return &Portfolio{
		ID:              PortfolioID,
		Name:            DefaultPortfolioName,
		TotalInvestment: decimal.Zero,
		CurrentValue:    decimal.Zero,
		RealizedPL:      decimal.Zero,
		LastRebalanced:  now,
		Holdings:        []Holding{},
	}
}

// Holding returns the holding for ticker, if held
func (p *Portfolio) Holding(ticker string) (Holding, bool) {
	for _, h := range p.Holdings {
		if h.Ticker == ticker {
			return h, true
		}
	}
	return Holding{}, false
}

// Holds reports whether ticker is currently held
func (p *Portfolio) Holds(ticker string) bool {
	_, ok := p.Holding(ticker)
	return ok
}

// Tickers returns the held tickers in holding order
func (p *Portfolio) Tickers() []string {
	tickers := make([]string, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		tickers = append(tickers, h.Ticker)
	}
	return tickers
}

// AddHolding appends a holding to the aggregate
func (p *Portfolio) AddHolding(h Holding) {
	p.Holdings = append(p.Holdings, h)
}

// RemoveHolding drops the holding for ticker; it is a no-op when not held
func (p *Portfolio) RemoveHolding(ticker string) {
	kept := p.Holdings[:0]
	for _, h := range p.Holdings {
		if h.Ticker != ticker {
			kept = append(kept, h)
		}
	}
	p.Holdings = kept
}

// WinRate returns winningTrades / totalTrades, zero when no trades were closed
func (p *Portfolio) WinRate() decimal.Decimal {
	if p.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(p.WinningTrades).Div(decimal.NewFromInt(p.TotalTrades))
}

// Trade is an immutable trade log entry
type Trade struct {
	Date       time.Time           `json:"date"`
	Side       TradeSide           `json:"type"`
	Ticker     string              `json:"ticker"`
	Price      decimal.Decimal     `json:"price"`
	RealizedPL decimal.NullDecimal `json:"realized_pl"` // Only set for SELL
	ID         int64               `json:"id"`
	Quantity   int64               `json:"quantity"`
}

// Signal is an externally generated BUY/SELL instruction batch
type Signal struct {
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	Side        TradeSide    `json:"type"`
	Status      SignalStatus `json:"status"`
	Tickers     []string     `json:"tickers"`
	ID          int64        `json:"id"`
	Malformed   bool         `json:"malformed,omitempty"` // Stored ticker list did not decode to an array
}

// PriceQuote is the latest and previous close for a ticker
type PriceQuote struct {
	Ticker        string              `json:"ticker"`
	LatestClose   decimal.Decimal     `json:"latest_close"`
	PreviousClose decimal.NullDecimal `json:"previous_close"`
	DayChangePct  decimal.Decimal     `json:"day_change_pct"`
}

// Snapshot is a timestamped portfolio valuation
type Snapshot struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
	ID    int64           `json:"id"`
}

// EODRecord is one daily price bar
type EODRecord struct {
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// RebalanceError is a per-ticker problem recorded during a run
type RebalanceError struct {
	Ticker  string `json:"ticker" msgpack:"ticker"`
	Message string `json:"message" msgpack:"message"`
}

// RebalanceReport is the structured outcome of one rebalance.
// Field names match the payload consumed by the cron caller.
type RebalanceReport struct {
	SoldByStopLoss []string         `json:"soldByStopLoss" msgpack:"soldByStopLoss"`
	SoldBySignal   []string         `json:"soldBySignal" msgpack:"soldBySignal"`
	Bought         []string         `json:"bought" msgpack:"bought"`
	Errors         []RebalanceError `json:"errors" msgpack:"errors"`
}

// NewRebalanceReport returns a report with empty (non-nil) lists
func NewRebalanceReport() RebalanceReport {
	return RebalanceReport{
		SoldByStopLoss: []string{},
		SoldBySignal:   []string{},
		Bought:         []string{},
		Errors:         []RebalanceError{},
	}
}

// NormalizeTicker trims and upper-cases a ticker symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
