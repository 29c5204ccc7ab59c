// Package handlers provides HTTP handlers for the trade ledger.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/rs/zerolog"
)

// TradeReader reads the trade ledger
type TradeReader interface {
	GetRecent(ctx context.Context, limit int) ([]domain.Trade, error)
	GetByTicker(ctx context.Context, ticker string) ([]domain.Trade, error)
}

// Handler handles trade HTTP requests
type Handler struct {
	trades TradeReader
	log    zerolog.Logger
}

// NewHandler creates a new trade handler
func NewHandler(trades TradeReader, log zerolog.Logger) *Handler {
	return &Handler{
		trades: trades,
		log:    log.With().Str("handler", "trading").Logger(),
	}
}

// HandleGetTrades handles GET /api/portfolio/trades.
// ?ticker= returns that ticker's full history; otherwise the latest ?limit= trades.
func (h *Handler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	var trades []domain.Trade
	var err error

	if ticker := domain.NormalizeTicker(r.URL.Query().Get("ticker")); ticker != "" {
		trades, err = h.trades.GetByTicker(r.Context(), ticker)
	} else {
		limit, limitErr := utils.QueryLimit(r, 50, 1000)
		if limitErr != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request.", "error": limitErr.Error()})
			return
		}
		trades, err = h.trades.GetRecent(r.Context(), limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load trades")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to load trades.", "error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
