package stoploss

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDynamicStopLossPrice_Tiers(t *testing.T) {
	tests := []struct {
		name     string
		purchase string
		current  string
		expected string
	}{
		{"loss stays at breakeven", "100", "80", "100"},
		{"below first tier", "100", "104.99", "100"},
		{"5 percent boundary", "100", "105", "105"},
		{"10 percent boundary", "100", "110", "108"},
		{"14 percent uses 10 tier", "100", "114", "108"},
		{"15 percent boundary", "100", "115", "112"},
		{"20 percent uses 20 tier not 15", "100", "120", "120"},
		{"25 percent boundary", "100", "125", "125"},
		{"29 percent still tiered", "100", "129", "125"},
		{"30 percent trailing equals tier 20", "100", "130", "120"},
		{"50 percent trailing", "100", "150", "140"},
		{"non-round purchase price", "40", "44", "43.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DynamicStopLossPrice(d(tt.purchase), d(tt.current))
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.expected)), "expected %s, got %s", tt.expected, got)
		})
	}
}

func TestDynamicStopLossPrice_RangeAndMonotonic(t *testing.T) {
	purchase := d("100")
	upper := purchase.Mul(d("1.25"))
	prev := decimal.Zero

	for profit := -100; profit <= 29; profit++ {
		current := purchase.Add(decimal.NewFromInt(int64(profit)))
		got, err := DynamicStopLossPrice(purchase, current)
		require.NoError(t, err)

		assert.True(t, got.GreaterThanOrEqual(purchase), "profit %d: %s below purchase", profit, got)
		assert.True(t, got.LessThanOrEqual(upper), "profit %d: %s above cap", profit, got)
		assert.True(t, got.GreaterThanOrEqual(prev), "profit %d: %s decreased from %s", profit, got, prev)
		prev = got
	}
}

func TestDynamicStopLossPrice_Trailing(t *testing.T) {
	purchase := d("200")
	for profit := 30; profit <= 200; profit += 7 {
		current := purchase.Mul(decimal.NewFromInt(int64(100 + profit))).Div(decimal.NewFromInt(100))
		got, err := DynamicStopLossPrice(purchase, current)
		require.NoError(t, err)

		lockIn := decimal.NewFromInt(int64(profit - 10)).Div(decimal.NewFromInt(100))
		expected := purchase.Mul(decimal.NewFromInt(1).Add(lockIn))
		assert.True(t, got.Equal(expected), "profit %d: expected %s, got %s", profit, expected, got)
	}
}

func TestDynamicStopLossPrice_InvalidPurchasePrice(t *testing.T) {
	_, err := DynamicStopLossPrice(decimal.Zero, d("10"))
	assert.ErrorIs(t, err, ErrInvalidPurchasePrice)

	_, err = DynamicStopLossPrice(d("-1"), d("10"))
	assert.ErrorIs(t, err, ErrInvalidPurchasePrice)
}

func TestPolicy_ShouldSell(t *testing.T) {
	p := DefaultPolicy()

	// 114 puts the stop at 108; 105 is then below it
	sell, stop, err := p.ShouldSell(d("100"), d("114"))
	require.NoError(t, err)
	assert.False(t, sell)
	assert.True(t, stop.Equal(d("108")))

	sell, stop, err = p.ShouldSell(d("100"), d("105"))
	require.NoError(t, err)
	assert.False(t, sell, "105 locks in 5 percent so stop equals price")
	assert.True(t, stop.Equal(d("105")))

	sell, _, err = p.ShouldSell(d("100"), d("95"))
	require.NoError(t, err)
	assert.True(t, sell)
}

func TestNewPolicy_SortsTiers(t *testing.T) {
	p, err := NewPolicy([]Tier{
		{Threshold: d("5"), LockIn: d("0.01")},
		{Threshold: d("15"), LockIn: d("0.10")},
		{Threshold: d("10"), LockIn: d("0.05")},
	}, d("40"), d("5"))
	require.NoError(t, err)

	tiers := p.Tiers()
	require.Len(t, tiers, 3)
	assert.True(t, tiers[0].Threshold.Equal(d("15")))
	assert.True(t, tiers[2].Threshold.Equal(d("5")))

	assert.True(t, p.LockInTarget(d("12")).Equal(d("0.05")))
	assert.True(t, p.LockInTarget(d("45")).Equal(d("0.40")))
}

func TestNewPolicy_Validation(t *testing.T) {
	tests := []struct {
		name  string
		tiers []Tier
		gap   string
	}{
		{"negative lock-in", []Tier{{Threshold: d("5"), LockIn: d("-0.1")}}, "10"},
		{"threshold above trailing", []Tier{{Threshold: d("35"), LockIn: d("0.1")}}, "10"},
		{"duplicate thresholds", []Tier{{Threshold: d("5"), LockIn: d("0.1")}, {Threshold: d("5"), LockIn: d("0.2")}}, "10"},
		{"negative gap", nil, "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.tiers, DefaultTrailingThreshold, d(tt.gap))
			assert.Error(t, err)
		})
	}
}

func TestNewPolicy_EmptyTiersIsBreakeven(t *testing.T) {
	p, err := NewPolicy(nil, DefaultTrailingThreshold, DefaultTrailingGap)
	require.NoError(t, err)

	stop, err := p.StopLossPrice(d("100"), d("120"))
	require.NoError(t, err)
	assert.True(t, stop.Equal(d("100")))
}
