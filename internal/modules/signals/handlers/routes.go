package handlers

import (
	"github.com/aristath/rebalancer/internal/utils"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers signal routes under the /api router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/signals", func(r chi.Router) {
		r.Get("/", h.HandleListSignals)

		r.Group(func(r chi.Router) {
			r.Use(utils.RequireBearer(h.secret))
			r.Post("/", h.HandleCreateSignal)
			r.Post("/fail", h.HandleMarkFailed)
		})
	})
}
