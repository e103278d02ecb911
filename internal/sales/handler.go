package sales

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/evmotors/dms/internal/platform/httpx"
	"github.com/evmotors/dms/internal/shared"
)

// Handler manages sales endpoints.
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

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quotations", func(r chi.Router) {
		r.Get("/", h.listQuotations)
		r.Post("/", h.createQuotation)
		r.Get("/{id}", h.showQuotation)
		r.Post("/{id}/send", h.sendQuotation)
		r.Post("/{id}/accept", h.acceptQuotation)
		r.Post("/{id}/reject", h.rejectQuotation)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.showOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/complete", h.completeOrder)
	})
	r.Route("/dealer-orders", func(r chi.Router) {
		r.Get("/", h.listDealerOrders)
		r.Get("/{id}", h.showDealerOrder)
		r.Post("/{id}/approve", h.approveDealerOrder)
		r.Post("/{id}/reject", h.rejectDealerOrder)
		r.Post("/{id}/advance", h.advanceDealerOrder)
		r.Post("/{id}/cancel", h.cancelDealerOrder)
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func actorOr(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing actor identity")
	}
	return actor, ok
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	var req QuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	q, err := h.service.Quote(r.Context(), req, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	req := ListQuotationsRequest{}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status, err := QuotationMachine.Parse(v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		req.Status = &status
	}
	if v := q.Get("dealer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.DealerID = &id
		}
	}
	if v := q.Get("customer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.CustomerID = &id
		}
	}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	quotations, total, err := h.service.ListQuotations(r.Context(), req)
	if err != nil {
		h.logger.Error("list quotations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quotations": quotations, "total": total})
}

func (h *Handler) showQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	q, err := h.service.GetQuotation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) sendQuotation(w http.ResponseWriter, r *http.Request) {
	h.quotationAction(w, r, h.service.SendQuotation)
}

func (h *Handler) acceptQuotation(w http.ResponseWriter, r *http.Request) {
	h.quotationAction(w, r, h.service.AcceptQuotation)
}

func (h *Handler) quotationAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (*Quotation, error)) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	q, err := fn(r.Context(), id, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
	Note   string `json:"note,omitempty" validate:"max=1000"`
}

func decodeReason(r *http.Request) reasonRequest {
	var req reasonRequest
	if r.ContentLength > 0 {
		_ = httpx.DecodeJSON(r, &req)
	}
	return req
}

func (h *Handler) rejectQuotation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	req := decodeReason(r)
	q, err := h.service.RejectQuotation(r.Context(), id, actor.UserID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	req := ListOrdersRequest{}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status, err := OrderMachine.Parse(v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		req.Status = &status
	}
	if v := q.Get("customer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.CustomerID = &id
		}
	}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	orders, total, err := h.service.ListOrders(r.Context(), req)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders, "total": total})
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	req := decodeReason(r)
	o, err := h.service.CancelOrder(r.Context(), id, actor.UserID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	if err := h.service.CompleteOrder(r.Context(), id, actor.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listDealerOrders(w http.ResponseWriter, r *http.Request) {
	req := ListDealerOrdersRequest{}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status, err := DealerOrderMachine.Parse(v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		req.Status = &status
	}
	if v := q.Get("dealer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.DealerID = &id
		}
	}
	if v := q.Get("approval"); v != "" {
		approval := ApprovalStatus(v)
		switch approval {
		case ApprovalPending, ApprovalApproved, ApprovalRejected:
			req.Approval = &approval
		default:
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown approval status")
			return
		}
	}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	orders, total, err := h.service.ListDealerOrders(r.Context(), req)
	if err != nil {
		h.logger.Error("list dealer orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"dealer_orders": orders, "total": total})
}

func (h *Handler) showDealerOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dealer order id")
		return
	}
	o, err := h.service.GetDealerOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) approveDealerOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dealer order id")
		return
	}
	req := decodeReason(r)
	o, err := h.service.ApproveDealerOrder(r.Context(), id, actor, req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) rejectDealerOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dealer order id")
		return
	}
	req := decodeReason(r)
	o, err := h.service.RejectDealerOrder(r.Context(), id, actor, req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

type advanceRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) advanceDealerOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dealer order id")
		return
	}
	var req advanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	target, err := DealerOrderMachine.Parse(req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	o, err := h.service.AdvanceDealerOrder(r.Context(), id, target, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) cancelDealerOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dealer order id")
		return
	}
	req := decodeReason(r)
	o, err := h.service.CancelDealerOrder(r.Context(), id, actor.UserID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}
