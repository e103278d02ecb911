package sales

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// MountRoutes wires sales routes onto the router.
func MountRoutes(r chi.Router, logger *slog.Logger, service *Service) {
	handler := NewHandler(logger, service)
	r.Route("/sales", func(r chi.Router) {
		handler.MountRoutes(r)
	})
}
