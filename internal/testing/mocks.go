package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// MockPriceLookup is a mock implementation of domain.PriceLookup for testing
type MockPriceLookup struct {
	mu     sync.Mutex
	quotes map[string]domain.PriceQuote
	err    error
	calls  [][]string
}

// NewMockPriceLookup creates a new mock price lookup
func NewMockPriceLookup() *MockPriceLookup {
	return &MockPriceLookup{
		quotes: make(map[string]domain.PriceQuote),
	}
}

// SetPrice sets the latest close returned for ticker
func (m *MockPriceLookup) SetPrice(ticker, latestClose string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[ticker] = NewQuoteFixture(ticker, latestClose)
}

// RemovePrice makes ticker unpriced
func (m *MockPriceLookup) RemovePrice(ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, ticker)
}

// SetError sets the error to return
func (m *MockPriceLookup) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the ticker sets requested so far
func (m *MockPriceLookup) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// GetLatestPrices returns the configured quotes for the requested tickers
func (m *MockPriceLookup) GetLatestPrices(_ context.Context, tickers []string) (map[string]domain.PriceQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requested := make([]string, len(tickers))
	copy(requested, tickers)
	m.calls = append(m.calls, requested)

	if m.err != nil {
		return nil, m.err
	}

	result := make(map[string]domain.PriceQuote, len(tickers))
	for _, t := range tickers {
		if q, ok := m.quotes[t]; ok {
			result[t] = q
		}
	}
	return result, nil
}

// MockPortfolioStore is an in-memory domain.UnitOfWork.
// WithinTx works on a copy of the state and keeps it only when fn succeeds.
type MockPortfolioStore struct {
	mu    sync.Mutex
	state mockPortfolioState
	fail  map[string]error
	txs   int
}

type mockPortfolioState struct {
	portfolio *domain.Portfolio
	trades    []domain.Trade
	snapshots []domain.Snapshot
}

func (s mockPortfolioState) clone() mockPortfolioState {
	out := mockPortfolioState{
		trades:    append([]domain.Trade(nil), s.trades...),
		snapshots: append([]domain.Snapshot(nil), s.snapshots...),
	}
	if s.portfolio != nil {
		p := *s.portfolio
		p.Holdings = append([]domain.Holding{}, s.portfolio.Holdings...)
		out.portfolio = &p
	}
	return out
}

// NewMockPortfolioStore creates an empty store; the portfolio is created on first load
func NewMockPortfolioStore() *MockPortfolioStore {
	return &MockPortfolioStore{fail: make(map[string]error)}
}

// SetPortfolio seeds the stored portfolio
func (m *MockPortfolioStore) SetPortfolio(p *domain.Portfolio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.portfolio = p
	m.state = m.state.clone()
}

// FailOn makes the named store operation (e.g. "AppendSnapshot") return err
func (m *MockPortfolioStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

// Portfolio returns a copy of the committed portfolio, nil if never created
func (m *MockPortfolioStore) Portfolio() *domain.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone().portfolio
}

// Trades returns the committed trade log
func (m *MockPortfolioStore) Trades() []domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Trade(nil), m.state.trades...)
}

// Snapshots returns the committed snapshots
func (m *MockPortfolioStore) Snapshots() []domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Snapshot(nil), m.state.snapshots...)
}

// Transactions returns how many transactions were started
func (m *MockPortfolioStore) Transactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs
}

// WithinTx implements domain.UnitOfWork
func (m *MockPortfolioStore) WithinTx(_ context.Context, fn func(store domain.PortfolioStore) error) error {
	m.mu.Lock()
	m.txs++
	tx := &mockStoreTx{state: m.state.clone(), fail: m.fail}
	m.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = tx.state
	return nil
}

type mockStoreTx struct {
	state mockPortfolioState
	fail  map[string]error
}

func (t *mockStoreTx) LoadPortfolio(_ context.Context, now time.Time) (*domain.Portfolio, error) {
	if err := t.fail["LoadPortfolio"]; err != nil {
		return nil, err
	}
	if t.state.portfolio == nil {
		t.state.portfolio = domain.NewPortfolio(now)
	}
	// Callers get their own aggregate; holdings only change through the store
	return t.state.clone().portfolio, nil
}

func (t *mockStoreTx) SavePortfolio(_ context.Context, p *domain.Portfolio) error {
	if err := t.fail["SavePortfolio"]; err != nil {
		return err
	}
	if t.state.portfolio == nil {
		return errors.New("portfolio not found")
	}
	holdings := t.state.portfolio.Holdings
	saved := *p
	saved.Holdings = holdings
	t.state.portfolio = &saved
	return nil
}

func (t *mockStoreTx) AddHolding(_ context.Context, h domain.Holding) error {
	if err := t.fail["AddHolding"]; err != nil {
		return err
	}
	if t.state.portfolio.Holds(h.Ticker) {
		return fmt.Errorf("holding %s already exists", h.Ticker)
	}
	t.state.portfolio.AddHolding(h)
	return nil
}

func (t *mockStoreTx) RemoveHolding(_ context.Context, ticker string) error {
	if err := t.fail["RemoveHolding"]; err != nil {
		return err
	}
	if !t.state.portfolio.Holds(ticker) {
		return fmt.Errorf("holding %s not held", ticker)
	}
	t.state.portfolio.RemoveHolding(ticker)
	return nil
}

func (t *mockStoreTx) AppendTrade(_ context.Context, trade domain.Trade) error {
	if err := t.fail["AppendTrade"]; err != nil {
		return err
	}
	trade.ID = int64(len(t.state.trades) + 1)
	t.state.trades = append(t.state.trades, trade)
	return nil
}

func (t *mockStoreTx) AppendSnapshot(_ context.Context, s domain.Snapshot) error {
	if err := t.fail["AppendSnapshot"]; err != nil {
		return err
	}
	s.ID = int64(len(t.state.snapshots) + 1)
	t.state.snapshots = append(t.state.snapshots, s)
	return nil
}
