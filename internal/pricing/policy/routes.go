package policy

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// MountRoutes wires pricing policy routes onto the router.
func MountRoutes(r chi.Router, logger *slog.Logger, service *Service) {
	handler := NewHandler(logger, service)
	r.Route("/pricing", func(r chi.Router) {
		handler.MountRoutes(r)
	})
}
