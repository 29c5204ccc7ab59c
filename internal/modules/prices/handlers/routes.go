package handlers

import (
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers price routes under the /api router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/prices", func(r chi.Router) {
		r.Get("/latest", h.HandleGetLatest)
		r.Get("/{symbol}/history", h.HandleGetHistory)
		r.With(utils.RequireBearer(h.secret)).Post("/{symbol}/eod", h.HandleImportEOD)
	})
}
