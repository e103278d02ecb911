package policy

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/platform/httpx"
	"github.com/evmotors/dms/internal/shared"
)

// Handler manages pricing policy endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers policy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/policies", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/resolve", h.resolve)
	})
}

type createRequest struct {
	Name            string           `json:"name" validate:"required,max=200"`
	Scope           Scope            `json:"scope" validate:"required"`
	VariantID       *int64           `json:"variant_id,omitempty"`
	DealerID        *int64           `json:"dealer_id,omitempty"`
	BuyerType       *BuyerType       `json:"buyer_type,omitempty"`
	Region          *string          `json:"region,omitempty"`
	Priority        int              `json:"priority"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	EffectiveDate   time.Time        `json:"effective_date" validate:"required"`
	ExpiryDate      *time.Time       `json:"expiry_date,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.IsStaff() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "policy management requires staff role")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.CreatePolicy(r.Context(), Policy{
		Name:            req.Name,
		Scope:           req.Scope,
		VariantID:       req.VariantID,
		DealerID:        req.DealerID,
		BuyerType:       req.BuyerType,
		Region:          req.Region,
		Priority:        req.Priority,
		DiscountPercent: req.DiscountPercent,
		UnitPrice:       req.UnitPrice,
		EffectiveDate:   req.EffectiveDate,
		ExpiryDate:      req.ExpiryDate,
	})
	if err != nil {
		h.logger.Error("create policy", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

// resolve answers "what would this buyer pay" lookups without creating any
// document.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	variantID, err := strconv.ParseInt(q.Get("variant_id"), 10, 64)
	if err != nil || variantID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variant_id is required")
		return
	}
	buyerType := BuyerType(q.Get("buyer_type"))
	switch buyerType {
	case BuyerCustomer, BuyerDealer:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "buyer_type must be CUSTOMER or DEALER")
		return
	}
	query := Query{
		VariantID: variantID,
		BuyerType: buyerType,
		Region:    q.Get("region"),
		Date:      time.Now().UTC(),
	}
	if v := q.Get("dealer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			query.DealerID = &id
		}
	}
	if v := q.Get("date"); v != "" {
		d, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be RFC3339")
			return
		}
		query.Date = d
	}

	p, found, err := h.service.ResolvePrice(r.Context(), query)
	if err != nil {
		h.logger.Error("resolve price", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !found {
		httpx.JSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"found": true, "policy": p})
}
