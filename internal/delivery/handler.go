package delivery

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

// Handler exposes delivery note endpoints.
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

// MountRoutes registers delivery note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDeliveryNoteView, shared.PermDeliveryNoteCreate))
		r.Get("/delivery-notes", h.list)
		r.Get("/delivery-notes/{id}", h.show)
	})
	r.With(h.rbac.RequireAll(shared.PermDeliveryNoteCreate)).Post("/delivery-notes", h.create)
	r.With(h.rbac.RequireAll(shared.PermDeliveryNotePost)).Post("/delivery-notes/{id}/post-inventory", h.postInventory)
	r.With(h.rbac.RequireAll(shared.PermDeliveryNoteDispatch)).Post("/delivery-notes/{id}/dispatch", h.dispatch)
	r.With(h.rbac.RequireAll(shared.PermDeliveryNoteConfirm)).Post("/delivery-notes/{id}/confirm-delivery", h.confirmDelivery)
	r.With(h.rbac.RequireAll(shared.PermDeliveryNoteCancel)).Post("/delivery-notes/{id}/cancel", h.cancel)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	req := ListRequest{Search: q.Get("search"), Limit: httpx.QueryInt(r, "limit", 50), Offset: httpx.QueryInt(r, "offset", 0)}
	if id, err := strconv.ParseInt(q.Get("sales_order_id"), 10, 64); err == nil {
		req.SalesOrderID = &id
	}
	if id, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64); err == nil {
		req.WarehouseID = &id
	}
	if raw := q.Get("status"); raw != "" {
		st := Status(raw)
		req.Status = &st
	}
	if t, err := time.Parse(time.DateOnly, q.Get("date_from")); err == nil {
		req.DateFrom = &t
	}
	if t, err := time.Parse(time.DateOnly, q.Get("date_to")); err == nil {
		req.DateTo = &t
	}
	list, total, err := h.service.List(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list, "total": total})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	n, err := h.service.Get(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CreateFromOrderRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	n, err := h.service.CreateFromOrder(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, n)
}

func (h *Handler) postInventory(w http.ResponseWriter, r *http.Request) {
	h.locked(w, r, "posted to inventory", func(ctx context.Context, who shared.Identity, id int64) (Note, error) {
		return h.service.PostInventory(ctx, who, id)
	})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.locked(w, r, "dispatched", func(ctx context.Context, who shared.Identity, id int64) (Note, error) {
		return h.service.Dispatch(ctx, who, id, req)
	})
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	var req ConfirmDeliveryRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.locked(w, r, "delivered", func(ctx context.Context, who shared.Identity, id int64) (Note, error) {
		return h.service.ConfirmDelivery(ctx, who, id, req.ReceivedBy)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.locked(w, r, "cancelled", func(ctx context.Context, who shared.Identity, id int64) (Note, error) {
		return h.service.Cancel(ctx, who, id, req.Reason)
	})
}

// locked runs a transition while holding the note's process lock.
func (h *Handler) locked(w http.ResponseWriter, r *http.Request, verb string, fn func(context.Context, shared.Identity, int64) (Note, error)) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	lock, err := h.locks.Acquire(r.Context(), "delivery_note", id, who.UserID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(r.Context())); err != nil {
			h.logger.Warn("release delivery note lock", slog.Int64("id", id), slog.Any("error", err))
		}
	}()
	n, err := fn(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "delivery note %s %s", n.DocNumber, verb)
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
