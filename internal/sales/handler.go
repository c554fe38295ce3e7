package sales

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler exposes quotation and sales order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermQuotationView, shared.PermQuotationCreate))
		r.Get("/quotations", h.listQuotations)
		r.Get("/quotations/{id}", h.showQuotation)
	})
	r.With(h.rbac.RequireAll(shared.PermQuotationCreate)).Post("/quotations", h.createQuotation)
	r.With(h.rbac.RequireAll(shared.PermQuotationEdit)).Put("/quotations/{id}", h.updateQuotation)
	r.With(h.rbac.RequireAll(shared.PermQuotationSend)).Post("/quotations/{id}/send", h.sendQuotation)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermQuotationDecide))
		r.Post("/quotations/{id}/accept", h.acceptQuotation)
		r.Post("/quotations/{id}/reject", h.rejectQuotation)
	})
	r.With(h.rbac.RequireAll(shared.PermQuotationConvert)).Post("/quotations/{id}/convert", h.convertQuotation)

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSalesOrderView, shared.PermSalesOrderCreate))
		r.Get("/sales-orders", h.listOrders)
		r.Get("/sales-orders/{id}", h.showOrder)
	})
	r.With(h.rbac.RequireAll(shared.PermSalesOrderCreate)).Post("/sales-orders", h.createOrder)
	r.With(h.rbac.RequireAll(shared.PermSalesOrderApprove)).Post("/sales-orders/{id}/approve", h.approveOrder)
	r.With(h.rbac.RequireAll(shared.PermSalesOrderConfirm)).Post("/sales-orders/{id}/confirm", h.confirmOrder)
	r.With(h.rbac.RequireAll(shared.PermSalesOrderCancel)).Post("/sales-orders/{id}/cancel", h.cancelOrder)
}

// ============================================================================
// QUOTATIONS
// ============================================================================

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	req := ListQuotationsRequest{Search: r.URL.Query().Get("search"), Limit: httpx.QueryInt(r, "limit", 50), Offset: httpx.QueryInt(r, "offset", 0)}
	req.CustomerID, req.DateFrom, req.DateTo = listParams(r)
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := QuotationStatus(raw)
		req.Status = &st
	}
	list, total, err := h.service.ListQuotations(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list, "total": total})
}

func (h *Handler) showQuotation(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	q, err := h.service.GetQuotation(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CreateQuotationRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q, err := h.service.CreateQuotation(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) updateQuotation(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req UpdateQuotationRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q, err := h.service.UpdateQuotation(r.Context(), who, id, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) sendQuotation(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	q, err := h.service.SendQuotation(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "quotation %s sent", q.DocNumber)
}

func (h *Handler) acceptQuotation(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	q, err := h.service.AcceptQuotation(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "quotation %s accepted", q.DocNumber)
}

func (h *Handler) rejectQuotation(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req RejectQuotationRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q, err := h.service.RejectQuotation(r.Context(), who, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "quotation %s rejected", q.DocNumber)
}

func (h *Handler) convertQuotation(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req ConvertQuotationRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	order, err := h.service.ConvertQuotation(r.Context(), who, id, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

// ============================================================================
// SALES ORDERS
// ============================================================================

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	req := ListSalesOrdersRequest{Search: r.URL.Query().Get("search"), Limit: httpx.QueryInt(r, "limit", 50), Offset: httpx.QueryInt(r, "offset", 0)}
	req.CustomerID, req.DateFrom, req.DateTo = listParams(r)
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := SalesOrderStatus(raw)
		req.Status = &st
	}
	list, total, err := h.service.ListOrders(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list, "total": total})
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	o, err := h.service.GetOrder(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CreateSalesOrderRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	o, err := h.service.CreateOrder(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) approveOrder(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req ApproveSalesOrderRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	o, err := h.service.ApproveOrder(r.Context(), who, id, req.OverrideReason)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "sales order %s approved", o.DocNumber)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	o, err := h.service.ConfirmOrder(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "sales order %s confirmed", o.DocNumber)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req CancelSalesOrderRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	o, err := h.service.CancelOrder(r.Context(), who, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "sales order %s cancelled", o.DocNumber)
}

func (h *Handler) identityAndID(w http.ResponseWriter, r *http.Request) (shared.Identity, int64, bool) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return shared.Identity{}, 0, false
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return shared.Identity{}, 0, false
	}
	return who, id, true
}

// listParams reads customer_id, date_from and date_to; malformed values are ignored.
func listParams(r *http.Request) (customerID *int64, from, to *time.Time) {
	q := r.URL.Query()
	if id, err := strconv.ParseInt(q.Get("customer_id"), 10, 64); err == nil {
		customerID = &id
	}
	if t, err := time.Parse(time.DateOnly, q.Get("date_from")); err == nil {
		from = &t
	}
	if t, err := time.Parse(time.DateOnly, q.Get("date_to")); err == nil {
		to = &t
	}
	return customerID, from, to
}
