package delivery

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// MountRoutes wires delivery routes onto the router.
func MountRoutes(r chi.Router, logger *slog.Logger, service *Service) {
	handler := NewHandler(logger, service)
	r.Route("/delivery", func(r chi.Router) {
		handler.MountRoutes(r)
	})
}
