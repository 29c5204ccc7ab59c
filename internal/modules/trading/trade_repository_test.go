package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
)

func TestTradeRepository_CreateAndGetRecent(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "portfolio")
	repo := NewTradeRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()
	now := testingpkg.FixtureTime

	buyID, err := repo.Create(ctx, domain.Trade{
		Date: now.Add(-time.Hour), Side: domain.TradeSideBuy, Ticker: "X", Quantity: 100,
		Price: decimal.NewFromInt(100),
		// Ignored for buys
		RealizedPL: decimal.NewNullDecimal(decimal.NewFromInt(1)),
	})
	require.NoError(t, err)
	assert.Positive(t, buyID)

	_, err = repo.Create(ctx, domain.Trade{
		Date: now, Side: domain.TradeSideSell, Ticker: "X", Quantity: 100,
		Price:      decimal.NewFromInt(105),
		RealizedPL: decimal.NewNullDecimal(decimal.NewFromInt(500)),
	})
	require.NoError(t, err)

	trades, err := repo.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	sell := trades[0]
	assert.Equal(t, domain.TradeSideSell, sell.Side)
	assert.True(t, sell.Price.Equal(decimal.NewFromInt(105)))
	require.True(t, sell.RealizedPL.Valid)
	assert.True(t, sell.RealizedPL.Decimal.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, now.Unix(), sell.Date.Unix())

	buy := trades[1]
	assert.Equal(t, domain.TradeSideBuy, buy.Side)
	assert.False(t, buy.RealizedPL.Valid, "buys never carry realized P/L")

	limited, err := repo.GetRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	byTicker, err := repo.GetByTicker(ctx, "X")
	require.NoError(t, err)
	require.Len(t, byTicker, 2)
	assert.Equal(t, domain.TradeSideBuy, byTicker[0].Side)
}

func TestTradeRepository_CreateValidation(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "portfolio")
	repo := NewTradeRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	tests := []struct {
		name  string
		trade domain.Trade
	}{
		{"invalid side", domain.Trade{Side: "HOLD", Ticker: "X", Quantity: 1, Price: decimal.NewFromInt(1)}},
		{"zero quantity", domain.Trade{Side: domain.TradeSideBuy, Ticker: "X", Quantity: 0, Price: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Create(ctx, tt.trade)
			assert.Error(t, err)
		})
	}
}
