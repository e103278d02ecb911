package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/evmotors/dms/internal/billing"
	"github.com/evmotors/dms/internal/delivery"
	"github.com/evmotors/dms/internal/inventory"
	"github.com/evmotors/dms/internal/pricing/policy"
	"github.com/evmotors/dms/internal/sales"
	"github.com/evmotors/dms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	InventoryService *inventory.Service
	SalesService     *sales.Service
	BillingService   *billing.Service
	DeliveryService  *delivery.Service
	PolicyService    *policy.Service
	Sweeper          *jobs.Sweeper
	JobClient        *jobs.Client
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	inventory.MountRoutes(r, params.Logger, params.InventoryService)
	sales.MountRoutes(r, params.Logger, params.SalesService)
	billing.MountRoutes(r, params.Logger, params.BillingService)
	delivery.MountRoutes(r, params.Logger, params.DeliveryService)
	policy.MountRoutes(r, params.Logger, params.PolicyService)

	if params.Sweeper != nil {
		r.Post("/admin/sweep", sweepHandler(params.Logger, params.Sweeper, params.JobClient))
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
