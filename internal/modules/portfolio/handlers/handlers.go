// Package handlers provides HTTP handlers for the portfolio aggregate and its performance.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/performance"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PortfolioReader loads the portfolio aggregate
type PortfolioReader interface {
	Get(ctx context.Context) (*domain.Portfolio, error)
}

// PerformanceSummarizer computes the performance overview
type PerformanceSummarizer interface {
	Summary(ctx context.Context) (*performance.Summary, error)
}

// Handler handles portfolio HTTP requests
type Handler struct {
	portfolio   PortfolioReader
	performance PerformanceSummarizer
	log         zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(portfolio PortfolioReader, performance PerformanceSummarizer, log zerolog.Logger) *Handler {
	return &Handler{
		portfolio:   portfolio,
		performance: performance,
		log:         log.With().Str("handler", "portfolio").Logger(),
	}
}

// HoldingView is a holding with its cost basis
type HoldingView struct {
	domain.Holding
	CostBasis decimal.Decimal `json:"cost_basis"`
}

// PortfolioResponse is the body of GET /api/portfolio
type PortfolioResponse struct {
	LastRebalanced  time.Time       `json:"last_rebalanced"`
	Name            string          `json:"name"`
	Holdings        []HoldingView   `json:"holdings"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	RealizedPL      decimal.Decimal `json:"realized_pl"`
	WinRate         decimal.Decimal `json:"win_rate"`
	TotalTrades     int64           `json:"total_trades"`
	WinningTrades   int64           `json:"winning_trades"`
}

// HandleGetPortfolio handles GET /api/portfolio
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.portfolio.Get(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load portfolio")
		h.writeError(w, http.StatusInternalServerError, "Failed to load portfolio.", err)
		return
	}

	holdings := make([]HoldingView, 0, len(p.Holdings))
	for _, holding := range p.Holdings {
		holdings = append(holdings, HoldingView{Holding: holding, CostBasis: holding.CostBasis()})
	}

	h.writeJSON(w, http.StatusOK, PortfolioResponse{
		Name:            p.Name,
		Holdings:        holdings,
		TotalInvestment: p.TotalInvestment,
		CurrentValue:    p.CurrentValue,
		RealizedPL:      p.RealizedPL,
		WinRate:         p.WinRate(),
		TotalTrades:     p.TotalTrades,
		WinningTrades:   p.WinningTrades,
		LastRebalanced:  p.LastRebalanced,
	})
}

// HandleGetPerformance handles GET /api/portfolio/performance
func (h *Handler) HandleGetPerformance(w http.ResponseWriter, r *http.Request) {
	summary, err := h.performance.Summary(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute performance")
		h.writeError(w, http.StatusInternalServerError, "Failed to compute performance.", err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	h.writeJSON(w, status, map[string]string{"message": message, "error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
