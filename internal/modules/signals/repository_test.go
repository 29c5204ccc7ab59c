package signals

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
)

func setupRepo(t *testing.T) (*Repository, *sql.DB) {
	t.Helper()
	db := testingpkg.NewMemoryDB(t, "portfolio")
	return NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled)), db
}

func insertRawSignal(t *testing.T, db *sql.DB, side, tickers string, createdAt int64) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO signals (side, tickers, status, created_at, updated_at) VALUES (?, ?, 'PENDING', ?, ?)`,
		side, tickers, createdAt, createdAt)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestCreate_NormalizesTickers(t *testing.T) {
	repo, _ := setupRepo(t)

	s, err := repo.Create(context.Background(), "buy", []string{" aapl", "", "msft ", "  "})
	require.NoError(t, err)

	assert.Equal(t, domain.TradeSideBuy, s.Side)
	assert.Equal(t, []string{"AAPL", "MSFT"}, s.Tickers)
	assert.Equal(t, domain.SignalStatusPending, s.Status)
	assert.Positive(t, s.ID)
}

func TestCreate_Validation(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "HOLD", []string{"AAPL"})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = repo.Create(ctx, domain.TradeSideSell, []string{" ", ""})
	assert.ErrorIs(t, err, ErrNoTickers)

	_, err = repo.Create(ctx, domain.TradeSideSell, nil)
	assert.ErrorIs(t, err, ErrNoTickers)
}

func TestGetPending_CreationOrderAndMalformed(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	second := insertRawSignal(t, db, "SELL", `["X"]`, 200)
	first := insertRawSignal(t, db, "BUY", `["Y","Z"]`, 100)
	bad := insertRawSignal(t, db, "BUY", `"AAPL"`, 300)
	null := insertRawSignal(t, db, "BUY", `null`, 400)
	numbers := insertRawSignal(t, db, "SELL", `[1, 2]`, 500)

	pending, err := repo.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 5)

	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, []string{"Y", "Z"}, pending[0].Tickers)
	assert.Equal(t, second, pending[1].ID)
	assert.False(t, pending[1].Malformed)

	for i, id := range []int64{bad, null, numbers} {
		s := pending[i+2]
		assert.Equal(t, id, s.ID)
		assert.True(t, s.Malformed, "signal %d should be malformed", id)
		assert.Empty(t, s.Tickers)
	}
}

func TestMarkProcessed(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, domain.TradeSideBuy, []string{"A"})
	require.NoError(t, err)
	b, err := repo.Create(ctx, domain.TradeSideSell, []string{"B"})
	require.NoError(t, err)
	c, err := repo.Create(ctx, domain.TradeSideSell, []string{"C"})
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkProcessed(ctx, []int64{a.ID, b.ID}, at))
	require.NoError(t, repo.MarkFailed(ctx, []int64{c.ID}, at))
	require.NoError(t, repo.MarkProcessed(ctx, nil, at))

	pending, err := repo.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	processed, err := repo.List(ctx, domain.SignalStatusProcessed, 10)
	require.NoError(t, err)
	require.Len(t, processed, 2)
	require.NotNil(t, processed[0].ProcessedAt)
	assert.Equal(t, at, *processed[0].ProcessedAt)

	failed, err := repo.List(ctx, domain.SignalStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, c.ID, failed[0].ID)

	all, err := repo.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFlatten(t *testing.T) {
	signals := []domain.Signal{
		{ID: 1, Side: domain.TradeSideBuy, Tickers: []string{"A", "B"}},
		{ID: 2, Side: domain.TradeSideSell, Tickers: []string{"C"}},
		{ID: 3, Side: domain.TradeSideBuy, Malformed: true, Tickers: []string{}},
		{ID: 4, Side: domain.TradeSideBuy, Tickers: []string{"B", "D"}},
		{ID: 5, Side: domain.TradeSideSell, Tickers: []string{"C"}},
	}

	b := Flatten(signals, zerolog.New(nil).Level(zerolog.Disabled))

	assert.Equal(t, []string{"A", "B", "B", "D"}, b.BuyTickers, "concatenated without dedup")
	assert.Equal(t, []string{"C", "C"}, b.SellTickers)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, b.IDs, "malformed signals are still consumed")
	assert.Equal(t, 1, b.Malformed)
}

func TestFlatten_Empty(t *testing.T) {
	b := Flatten(nil, zerolog.New(nil).Level(zerolog.Disabled))
	assert.NotNil(t, b.BuyTickers)
	assert.NotNil(t, b.SellTickers)
	assert.Empty(t, b.IDs)
}
