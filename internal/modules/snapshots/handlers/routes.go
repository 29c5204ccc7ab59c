package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers snapshot routes under the /api router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolio/snapshots", h.HandleGetSnapshots)
}
