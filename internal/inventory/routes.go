// Package inventory is the vehicle unit ledger: it owns every allocation
// state change (reserve, release, consume) on VIN-identified stock.
package inventory

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// MountRoutes wires inventory routes onto the router.
func MountRoutes(r chi.Router, logger *slog.Logger, service *Service) {
	handler := NewHandler(logger, service)
	r.Route("/inventory", func(r chi.Router) {
		handler.MountRoutes(r)
	})
}
