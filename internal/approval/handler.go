package approval

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler exposes approval review endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermApprovalView, shared.PermApprovalDecide))
		r.Get("/approvals/pending", h.listPending)
		r.Get("/approvals/pending/count", h.pendingCount)
		r.Get("/approvals/{id}", h.show)
		r.Get("/approvals/{id}/history", h.history)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermApprovalDecide))
		r.Post("/approvals/{id}/approve", h.approve)
		r.Post("/approvals/{id}/reject", h.reject)
	})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	list, err := h.service.ListPending(r.Context(), who, httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) pendingCount(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	n, err := h.service.PendingCount(r.Context(), who)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	req, err := h.service.GetRequest(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Identity, int64, string) (Request, error)) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var body DecisionRequest
	if err := httpx.DecodeAndValidate(r, &body); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	req, err := fn(r.Context(), who, id, body.Notes)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "approval request %d %s", req.ID, req.Status)
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
