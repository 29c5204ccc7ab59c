// Package handlers provides HTTP handlers for portfolio valuation history.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/rs/zerolog"
)

// SnapshotReader reads valuation history
type SnapshotReader interface {
	GetRecent(ctx context.Context, limit int) ([]domain.Snapshot, error)
}

// Handler handles snapshot HTTP requests
type Handler struct {
	snapshots SnapshotReader
	log       zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(snapshots SnapshotReader, log zerolog.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		log:       log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleGetSnapshots handles GET /api/portfolio/snapshots
func (h *Handler) HandleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryLimit(r, 100, 5000)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request.", "error": err.Error()})
		return
	}

	snapshots, err := h.snapshots.GetRecent(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load snapshots")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to load snapshots.", "error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
