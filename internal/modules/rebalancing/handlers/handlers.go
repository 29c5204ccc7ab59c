// Package handlers provides HTTP handlers for triggering rebalances and reading run history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/rs/zerolog"
)

const (
	// FailureMessage is returned with HTTP 500 when a run fails
	FailureMessage = "Cron job failed."
	// InProgressMessage is returned with HTTP 409 when a run is already in flight
	InProgressMessage = "Rebalance already in progress."
)

// Runner executes one rebalance run
type Runner interface {
	Run(ctx context.Context) (*rebalancing.RunResult, error)
}

// RunLister reads run history
type RunLister interface {
	GetRecent(ctx context.Context, limit int) ([]rebalancing.Run, error)
}

// Handler handles rebalance HTTP requests
type Handler struct {
	runner Runner
	runs   RunLister
	secret string
	log    zerolog.Logger
}

// NewHandler creates a new rebalance handler.
// secret guards the trigger endpoint; an empty secret rejects every trigger.
func NewHandler(runner Runner, runs RunLister, secret string, log zerolog.Logger) *Handler {
	return &Handler{
		runner: runner,
		runs:   runs,
		secret: secret,
		log:    log.With().Str("handler", "rebalancing").Logger(),
	}
}

// TriggerResponse is the body of a trigger call
type TriggerResponse struct {
	Report      *domain.RebalanceReport `json:"report,omitempty"`
	Message     string                  `json:"message"`
	Error       string                  `json:"error,omitempty"`
	RunID       string                  `json:"run_id,omitempty"`
	SignalCount int                     `json:"signal_count,omitempty"`
}

// HandleTriggerRebalance handles POST /api/cron/trigger-rebalance
func (h *Handler) HandleTriggerRebalance(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.Run(r.Context())
	if errors.Is(err, rebalancing.ErrRebalanceInProgress) {
		h.writeJSON(w, http.StatusConflict, TriggerResponse{Message: InProgressMessage})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Triggered rebalance failed")
		h.writeJSON(w, http.StatusInternalServerError, TriggerResponse{
			Message: FailureMessage,
			Error:   err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, TriggerResponse{
		Message:     result.Message,
		Report:      result.Report,
		RunID:       result.RunID,
		SignalCount: result.SignalCount,
	})
}

// HandleGetRuns handles GET /api/rebalance/runs
func (h *Handler) HandleGetRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryLimit(r, 20, 200)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request.", "error": err.Error()})
		return
	}

	runs, err := h.runs.GetRecent(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load run history")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to load run history.", "error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
