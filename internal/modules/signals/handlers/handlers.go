// Package handlers provides HTTP handlers for the signal queue.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/signals"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/rs/zerolog"
)

// SignalStore is the signal queue as seen by the HTTP layer
type SignalStore interface {
	Create(ctx context.Context, side domain.TradeSide, tickers []string) (*domain.Signal, error)
	List(ctx context.Context, status domain.SignalStatus, limit int) ([]domain.Signal, error)
	MarkFailed(ctx context.Context, ids []int64, at time.Time) error
}

// Handler handles signal HTTP requests
type Handler struct {
	store  SignalStore
	secret string
	log    zerolog.Logger
}

// NewHandler creates a new signal handler
func NewHandler(store SignalStore, secret string, log zerolog.Logger) *Handler {
	return &Handler{
		store:  store,
		secret: secret,
		log:    log.With().Str("handler", "signals").Logger(),
	}
}

// CreateSignalRequest is the body of POST /api/signals
type CreateSignalRequest struct {
	Type    domain.TradeSide `json:"type"`
	Tickers []string         `json:"tickers"`
}

// MarkFailedRequest is the body of POST /api/signals/fail
type MarkFailedRequest struct {
	IDs []int64 `json:"ids"`
}

// HandleCreateSignal handles POST /api/signals
func (h *Handler) HandleCreateSignal(w http.ResponseWriter, r *http.Request) {
	var req CreateSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.", err)
		return
	}

	signal, err := h.store.Create(r.Context(), req.Type, req.Tickers)
	if errors.Is(err, signals.ErrInvalidType) || errors.Is(err, signals.ErrNoTickers) {
		h.writeError(w, http.StatusBadRequest, "Invalid signal.", err)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create signal")
		h.writeError(w, http.StatusInternalServerError, "Failed to create signal.", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, signal)
}

// HandleListSignals handles GET /api/signals
func (h *Handler) HandleListSignals(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryLimit(r, 50, 500)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request.", err)
		return
	}

	status := domain.SignalStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.IsValid() {
		h.writeError(w, http.StatusBadRequest, "Invalid request.", errors.New("status must be PENDING, PROCESSED or FAILED"))
		return
	}

	list, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list signals")
		h.writeError(w, http.StatusInternalServerError, "Failed to list signals.", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": list,
		"count":   len(list),
	})
}

// HandleMarkFailed handles POST /api/signals/fail
func (h *Handler) HandleMarkFailed(w http.ResponseWriter, r *http.Request) {
	var req MarkFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.", err)
		return
	}
	if len(req.IDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid request.", errors.New("ids must not be empty"))
		return
	}

	if err := h.store.MarkFailed(r.Context(), req.IDs, time.Now()); err != nil {
		h.log.Error().Err(err).Ints64("ids", req.IDs).Msg("Failed to mark signals failed")
		h.writeError(w, http.StatusInternalServerError, "Failed to update signals.", err)
		return
	}

	h.log.Warn().Ints64("ids", req.IDs).Msg("Signals marked failed")
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"updated": len(req.IDs)})
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
