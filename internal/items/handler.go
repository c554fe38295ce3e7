package items

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers item master routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermItemEdit, shared.PermQuotationCreate, shared.PermSalesOrderCreate))
		r.Get("/items", h.List)
		r.Get("/items/{id}", h.Show)
		r.Get("/item-groups", h.ListGroups)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermItemEdit))
		r.Post("/items", h.Create)
		r.Put("/items/{id}", h.Update)
		r.Post("/item-groups", h.CreateGroup)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermItemDelete))
		r.Delete("/items/{id}", h.Delete)
		r.Delete("/item-groups/{id}", h.DeleteGroup)
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	filters := ListFilters{
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
		Limit:   httpx.QueryInt(r, "limit", 50),
		Offset:  httpx.QueryInt(r, "offset", 0),
	}
	if raw := q.Get("group_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.GroupID = &id
		}
	}
	if raw := q.Get("is_active"); raw != "" {
		isActive := raw == "true"
		filters.IsActive = &isActive
	}
	items, total, err := h.service.List(r.Context(), who, filters)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), who, id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CreateItemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	item, err := h.service.Create(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	item, err := h.service.Update(r.Context(), who, id, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), who, id); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "item %d deleted", id)
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	groups, err := h.service.ListGroups(r.Context(), who)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": groups})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	who, err := httpx.CurrentIdentity(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CreateGroupRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	group, err := h.service.CreateGroup(r.Context(), who, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, group)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	who, id, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteGroup(r.Context(), who, id); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.Message(w, "item group %d deleted", id)
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
