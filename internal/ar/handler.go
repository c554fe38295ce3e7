package ar

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler manages sales invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	locks   *shared.SoftLocker
}

// NewHandler builds Handler instance. locks may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, locks *shared.SoftLocker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, locks: locks}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// View routes
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInvoiceView, shared.PermInvoiceCreate))
		r.Get("/sales-invoices", h.listInvoices)
		r.Get("/sales-invoices/aging", h.showAging)
		r.Get("/sales-invoices/{id}", h.showInvoice)
		r.Get("/sales-invoices/{id}/payments", h.listPayments)
	})

	// Create routes
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInvoiceCreate))
		r.Post("/sales-invoices", h.createInvoice)
		r.Post("/sales-invoices/from-delivery-note", h.createFromDeliveryNote)
	})

	// Workflow routes
	r.With(h.rbac.RequireAll(shared.PermInvoicePost)).Post("/sales-invoices/{id}/post", h.postInvoice)
	r.With(h.rbac.RequireAll(shared.PermInvoicePayment)).Post("/sales-invoices/{id}/payments", h.recordPayment)
	r.With(h.rbac.RequireAll(shared.PermInvoiceVoid)).Post("/sales-invoices/{id}/void", h.voidInvoice)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	req := ListRequest{Search: q.Get("search"), Limit: httpx.QueryInt(r, "limit", 50), Offset: httpx.QueryInt(r, "offset", 0)}
	req.CustomerID = customerParam(r)
	if raw := q.Get("status"); raw != "" {
		st := InvoiceStatus(raw)
		req.Status = &st
	}
	if t, err := time.Parse(time.DateOnly, q.Get("date_from")); err == nil {
		req.DateFrom = &t
	}
	if t, err := time.Parse(time.DateOnly, q.Get("date_to")); err == nil {
		req.DateTo = &t
	}
	list, total, err := h.service.ListInvoices(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list, "total": total})
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) showAging(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var asOf time.Time
	if t, err := time.Parse(time.DateOnly, r.URL.Query().Get("as_of")); err == nil {
		asOf = t
	}
	bucket, err := h.service.CalculateAging(r.Context(), who, customerParam(r), asOf)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bucket)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	payments, err := h.service.ListPayments(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": payments})
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CreateInvoiceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) createFromDeliveryNote(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CreateFromDeliveryNoteRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	inv, err := h.service.CreateFromDeliveryNote(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	h.locked(w, r, func(ctx context.Context, who shared.Identity, id int64) {
		inv, err := h.service.PostInvoice(ctx, who, id)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.Message(w, "invoice %s posted", inv.DocNumber)
	})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.locked(w, r, func(ctx context.Context, who shared.Identity, id int64) {
		payment, inv, err := h.service.RecordPayment(ctx, who, id, req)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]any{"payment": payment, "invoice": inv})
	})
}

func (h *Handler) voidInvoice(w http.ResponseWriter, r *http.Request) {
	var req VoidRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.locked(w, r, func(ctx context.Context, who shared.Identity, id int64) {
		inv, err := h.service.VoidInvoice(ctx, who, id, req.Reason)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.Message(w, "invoice %s voided", inv.DocNumber)
	})
}

// locked runs fn while holding the invoice's process lock.
func (h *Handler) locked(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Identity, int64)) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	lock, err := h.locks.Acquire(r.Context(), "sales_invoice", id, who.UserID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(r.Context())); err != nil {
			h.logger.Warn("release invoice lock", slog.Int64("id", id), slog.Any("error", err))
		}
	}()
	fn(r.Context(), who, id)
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

func customerParam(r *http.Request) *int64 {
	id, err := strconv.ParseInt(r.URL.Query().Get("customer_id"), 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
