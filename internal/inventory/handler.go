package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/evmotors/dms/internal/platform/httpx"
	"github.com/evmotors/dms/internal/shared"
)

// Handler manages stock and reservation endpoints.
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

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/units", h.listUnits)
	r.Get("/units/{id}", h.showUnit)
	r.Get("/units/vin/{vin}", h.showUnitByVIN)
	r.Post("/units", h.intakeUnit)
	r.Post("/units/{id}/status", h.markStatus)
	r.Post("/units/{id}/consume", h.consumeUnit)
	r.Post("/reservations", h.reserveUnit)
	r.Delete("/units/{id}/reservation", h.releaseUnit)
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	req := ListUnitsRequest{}
	q := r.URL.Query()
	if v := q.Get("variant_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variant_id must be an integer")
			return
		}
		req.VariantID = &id
	}
	if v := q.Get("color_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "color_id must be an integer")
			return
		}
		req.ColorID = &id
	}
	if v := q.Get("status"); v != "" {
		status, err := ParseUnitStatus(v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		req.Status = &status
	}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	units, total, err := h.service.ListUnits(r.Context(), req)
	if err != nil {
		h.logger.Error("list units", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"units": units, "total": total})
}

func (h *Handler) showUnit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit id")
		return
	}
	unit, err := h.service.GetUnit(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) showUnitByVIN(w http.ResponseWriter, r *http.Request) {
	unit, err := h.service.GetUnitByVIN(r.Context(), chi.URLParam(r, "vin"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) intakeUnit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.IsStaff() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "stock intake requires staff role")
		return
	}
	var input IntakeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unit, err := h.service.Intake(r.Context(), input, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, unit)
}

type reserveRequest struct {
	VIN        string `json:"vin,omitempty"`
	VariantID  int64  `json:"variant_id,omitempty"`
	ColorID    int64  `json:"color_id,omitempty"`
	DealerID   *int64 `json:"dealer_id,omitempty"`
	CustomerID *int64 `json:"customer_id,omitempty"`
	TTLHours   int    `json:"ttl_hours,omitempty" validate:"gte=0,lte=720"`
}

func (h *Handler) reserveUnit(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sel := UnitSelector{VIN: req.VIN, VariantID: req.VariantID, ColorID: req.ColorID}
	holder := Holder{DealerID: req.DealerID, CustomerID: req.CustomerID}
	unit, err := h.service.Reserve(r.Context(), sel, holder, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, unit)
}

type releaseRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=255"`
}

func (h *Handler) releaseUnit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit id")
		return
	}
	var req releaseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
			return
		}
	}
	if err := h.service.Release(r.Context(), id, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type consumeRequest struct {
	SaleRef string `json:"sale_ref" validate:"required,max=64"`
}

// consumeUnit sells a unit directly, outside the delivery flow. Walk-in
// sales from AVAILABLE stock additionally require the service toggle.
func (h *Handler) consumeUnit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.IsStaff() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "direct sales require staff role")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit id")
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Consume(r.Context(), id, req.SaleRef); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type markStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) markStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.IsStaff() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "status changes require staff role")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit id")
		return
	}
	var req markStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	status, err := ParseUnitStatus(req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.MarkStatus(r.Context(), id, status, actor.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
