// Package stoploss provides the dynamic, profit-tiered stop-loss rule.
package stoploss

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInvalidPurchasePrice is returned when the purchase price is zero or negative
var ErrInvalidPurchasePrice = errors.New("purchase price must be positive")

var hundred = decimal.NewFromInt(100)

// Tier locks in LockIn (a fraction of purchase price) once profit reaches Threshold percent
type Tier struct {
	Threshold decimal.Decimal
	LockIn    decimal.Decimal
}

// DefaultTiers is the stock tier table, highest threshold first
var DefaultTiers = []Tier{
	{Threshold: decimal.NewFromInt(25), LockIn: decimal.RequireFromString("0.25")},
	{Threshold: decimal.NewFromInt(20), LockIn: decimal.RequireFromString("0.20")},
	{Threshold: decimal.NewFromInt(15), LockIn: decimal.RequireFromString("0.12")},
	{Threshold: decimal.NewFromInt(10), LockIn: decimal.RequireFromString("0.08")},
	{Threshold: decimal.NewFromInt(5), LockIn: decimal.RequireFromString("0.05")},
}

var (
	// DefaultTrailingThreshold is the profit percent above which the stop trails the price
	DefaultTrailingThreshold = decimal.NewFromInt(30)
	// DefaultTrailingGap is how many profit points the trailing stop sits below current profit
	DefaultTrailingGap = decimal.NewFromInt(10)
)

// Policy computes stop-loss prices from a tier table and a trailing rule
type Policy struct {
	tiers             []Tier
	trailingThreshold decimal.Decimal
	trailingGap       decimal.Decimal
}

// NewPolicy validates the tier table and returns a policy.
// Tiers may be given in any order; they are evaluated highest threshold first.
func NewPolicy(tiers []Tier, trailingThreshold, trailingGap decimal.Decimal) (*Policy, error) {
	if trailingGap.IsNegative() {
		return nil, fmt.Errorf("trailing gap must not be negative: %s", trailingGap)
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Threshold.GreaterThan(sorted[j].Threshold)
	})

	for i, tier := range sorted {
		if tier.LockIn.IsNegative() {
			return nil, fmt.Errorf("tier %s: lock-in must not be negative", tier.Threshold)
		}
		if tier.Threshold.GreaterThanOrEqual(trailingThreshold) {
			return nil, fmt.Errorf("tier %s: threshold must be below trailing threshold %s", tier.Threshold, trailingThreshold)
		}
		if i > 0 && tier.Threshold.Equal(sorted[i-1].Threshold) {
			return nil, fmt.Errorf("duplicate tier threshold %s", tier.Threshold)
		}
	}

	return &Policy{
		tiers:             sorted,
		trailingThreshold: trailingThreshold,
		trailingGap:       trailingGap,
	}, nil
}

// DefaultPolicy returns the policy built from DefaultTiers
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultTiers, DefaultTrailingThreshold, DefaultTrailingGap)
	if err != nil {
		panic(err)
	}
	return p
}

// Tiers returns a copy of the tier table, highest threshold first
func (p *Policy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// ProfitPercent returns (current - purchase) / purchase * 100
func ProfitPercent(purchasePrice, currentPrice decimal.Decimal) (decimal.Decimal, error) {
	if !purchasePrice.IsPositive() {
		return decimal.Zero, ErrInvalidPurchasePrice
	}
	return currentPrice.Sub(purchasePrice).Div(purchasePrice).Mul(hundred), nil
}

// LockInTarget returns the fraction of purchase price protected at profitPercent.
// At or above the trailing threshold it trails trailingGap points below current profit;
// below it the first tier whose threshold is <= profitPercent wins, else breakeven.
func (p *Policy) LockInTarget(profitPercent decimal.Decimal) decimal.Decimal {
	if profitPercent.GreaterThanOrEqual(p.trailingThreshold) {
		return profitPercent.Sub(p.trailingGap).Div(hundred)
	}

	for _, tier := range p.tiers {
		if profitPercent.GreaterThanOrEqual(tier.Threshold) {
			return tier.LockIn
		}
	}

	return decimal.Zero
}

// StopLossPrice returns purchasePrice * (1 + lock-in target)
func (p *Policy) StopLossPrice(purchasePrice, currentPrice decimal.Decimal) (decimal.Decimal, error) {
	profit, err := ProfitPercent(purchasePrice, currentPrice)
	if err != nil {
		return decimal.Zero, err
	}
	return purchasePrice.Mul(decimal.NewFromInt(1).Add(p.LockInTarget(profit))), nil
}

// ShouldSell reports whether currentPrice has fallen below the stop-loss price.
// The computed stop-loss price is returned for logging.
func (p *Policy) ShouldSell(purchasePrice, currentPrice decimal.Decimal) (bool, decimal.Decimal, error) {
	stop, err := p.StopLossPrice(purchasePrice, currentPrice)
	if err != nil {
		return false, decimal.Zero, err
	}
	return currentPrice.LessThan(stop), stop, nil
}

// DynamicStopLossPrice computes the stop-loss price with the default policy
func DynamicStopLossPrice(purchasePrice, currentPrice decimal.Decimal) (decimal.Decimal, error) {
	return defaultPolicy.StopLossPrice(purchasePrice, currentPrice)
}

var defaultPolicy = DefaultPolicy()
