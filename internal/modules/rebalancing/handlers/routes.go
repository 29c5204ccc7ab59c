package handlers

import (
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers rebalance routes under the /api router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(utils.RequireBearer(h.secret)).Post("/cron/trigger-rebalance", h.HandleTriggerRebalance)
	r.Get("/rebalance/runs", h.HandleGetRuns)
}
