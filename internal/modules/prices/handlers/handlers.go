// Package handlers provides HTTP handlers for daily price history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// PriceStore is the price history as seen by the HTTP layer
type PriceStore interface {
	GetLatestPrices(ctx context.Context, tickers []string) (map[string]domain.PriceQuote, error)
	UpsertEOD(ctx context.Context, symbol string, records []domain.EODRecord) error
	GetHistory(ctx context.Context, symbol string, limit int) ([]domain.EODRecord, error)
}

// Handler handles price HTTP requests
type Handler struct {
	prices PriceStore
	secret string
	log    zerolog.Logger
}

// NewHandler creates a new price handler
func NewHandler(prices PriceStore, secret string, log zerolog.Logger) *Handler {
	return &Handler{
		prices: prices,
		secret: secret,
		log:    log.With().Str("handler", "prices").Logger(),
	}
}

// EODRecordRequest is one daily bar in an import request; date is YYYY-MM-DD
type EODRecordRequest struct {
	Date     string          `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// ImportEODRequest is the body of POST /api/prices/{symbol}/eod
type ImportEODRequest struct {
	Records []EODRecordRequest `json:"records"`
}

// HandleImportEOD handles POST /api/prices/{symbol}/eod
func (h *Handler) HandleImportEOD(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeTicker(chi.URLParam(r, "symbol"))

	var req ImportEODRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.", err)
		return
	}
	if len(req.Records) == 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid request.", errors.New("records must not be empty"))
		return
	}

	records := make([]domain.EODRecord, 0, len(req.Records))
	for i, rec := range req.Records {
		date, err := time.Parse(dateLayout, rec.Date)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request.", fmt.Errorf("record %d: date must be YYYY-MM-DD", i))
			return
		}
		if !rec.Close.IsPositive() {
			h.writeError(w, http.StatusBadRequest, "Invalid request.", fmt.Errorf("record %d: close must be positive", i))
			return
		}
		records = append(records, domain.EODRecord{
			Date:     date,
			Open:     rec.Open,
			High:     rec.High,
			Low:      rec.Low,
			Close:    rec.Close,
			AdjClose: rec.AdjClose,
			Volume:   rec.Volume,
		})
	}

	if err := h.prices.UpsertEOD(r.Context(), symbol, records); err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to import EOD prices")
		h.writeError(w, http.StatusInternalServerError, "Failed to import prices.", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":   symbol,
		"imported": len(records),
	})
}

// HandleGetLatest handles GET /api/prices/latest?tickers=AAPL,MSFT
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	tickers := utils.ParseTickers(r.URL.Query().Get("tickers"))
	if len(tickers) == 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid request.", errors.New("tickers query parameter is required"))
		return
	}

	quotes, err := h.prices.GetLatestPrices(r.Context(), tickers)
	if err != nil {
		h.log.Error().Err(err).Strs("tickers", tickers).Msg("Failed to load latest prices")
		h.writeError(w, http.StatusInternalServerError, "Failed to load prices.", err)
		return
	}

	missing := make([]string, 0)
	for _, ticker := range tickers {
		if _, ok := quotes[ticker]; !ok {
			missing = append(missing, ticker)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"quotes":  quotes,
		"missing": missing,
	})
}

// HandleGetHistory handles GET /api/prices/{symbol}/history
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeTicker(chi.URLParam(r, "symbol"))

	limit, err := utils.QueryLimit(r, 30, 5000)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request.", err)
		return
	}

	records, err := h.prices.GetHistory(r.Context(), symbol, limit)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load price history")
		h.writeError(w, http.StatusInternalServerError, "Failed to load price history.", err)
		return
	}
	if records == nil {
		records = []domain.EODRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"records": records,
		"count":   len(records),
	})
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
