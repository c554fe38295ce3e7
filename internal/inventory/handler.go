package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler exposes inventory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermItemEdit, shared.PermDeliveryNoteView))
		r.Get("/inventory/items/{id}/stock", h.stock)
		r.Get("/inventory/movements", h.movements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermItemEdit))
		r.Post("/inventory/adjustments", h.adjust)
	})
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	itemID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	balances, err := h.service.StockOnHand(r.Context(), who.CompanyID, itemID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": balances})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	f := MovementFilter{
		CompanyID:     who.CompanyID,
		ItemID:        optionalID(q.Get("item_id")),
		WarehouseID:   optionalID(q.Get("warehouse_id")),
		ReferenceType: q.Get("reference_type"),
		ReferenceID:   optionalID(q.Get("reference_id")),
		Limit:         httpx.QueryInt(r, "limit", 50),
		Offset:        httpx.QueryInt(r, "offset", 0),
	}
	list, err := h.service.ListMovements(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req AdjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	id, err := h.service.Adjust(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"transaction_id": id})
}

func optionalID(raw string) *int64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
