package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers portfolio routes under the /api router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolio", h.HandleGetPortfolio)
	r.Get("/portfolio/performance", h.HandleGetPerformance)
}
