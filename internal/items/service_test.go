package items

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryRepo struct {
	items  map[int64]Item
	groups map[int64]Group
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item), groups: make(map[int64]Group)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(_ context.Context, companyID, id int64) (Item, error) {
	it, ok := r.items[id]
	if !ok || it.CompanyID != companyID {
		return Item{}, shared.NotFound("item", id)
	}
	return it, nil
}

func (r *memoryRepo) List(_ context.Context, companyID int64, _ ListFilters) ([]Item, int, error) {
	var out []Item
	for _, it := range r.items {
		if it.CompanyID == companyID {
			out = append(out, it)
		}
	}
	return out, len(out), nil
}

func (tx *memoryTx) Create(_ context.Context, item Item) (Item, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.ID] = item
	return item, nil
}

func (r *memoryRepo) CreateGroup(_ context.Context, group Group) (Group, error) {
	r.nextID++
	group.ID = r.nextID
	r.groups[group.ID] = group
	return group, nil
}

func (r *memoryRepo) ListGroups(_ context.Context, companyID int64) ([]Group, error) {
	var out []Group
	for _, g := range r.groups {
		if g.CompanyID == companyID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, companyID, id int64) (Item, error) {
	return tx.repo.Get(ctx, companyID, id)
}

func (tx *memoryTx) Update(_ context.Context, item Item) error {
	tx.repo.items[item.ID] = item
	return nil
}

func (tx *memoryTx) SoftDelete(_ context.Context, _, id, _ int64) error {
	delete(tx.repo.items, id)
	return nil
}

func (tx *memoryTx) GetGroupForUpdate(_ context.Context, companyID, id int64) (Group, error) {
	g, ok := tx.repo.groups[id]
	if !ok || g.CompanyID != companyID {
		return Group{}, shared.NotFound("item group", id)
	}
	return g, nil
}

func (tx *memoryTx) CountGroupItems(_ context.Context, companyID, groupID int64) (int, error) {
	n := 0
	for _, it := range tx.repo.items {
		if it.CompanyID == companyID && it.GroupID != nil && *it.GroupID == groupID {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) SoftDeleteGroup(_ context.Context, _, id, _ int64) error {
	delete(tx.repo.groups, id)
	return nil
}

type movedItems map[int64]bool

func (m movedItems) HasMovement(_ context.Context, _, itemID int64) (bool, error) {
	return m[itemID], nil
}

var who = shared.Identity{UserID: 7, CompanyID: 1}

func seedItem(t *testing.T, svc *Service) Item {
	t.Helper()
	item, err := svc.Create(context.Background(), who, CreateItemRequest{Code: "ITM-1", Name: "Widget", BaseUOMID: 1, SellingPrice: 42.5})
	require.NoError(t, err)
	require.Equal(t, TrackingNone, item.TrackingPolicy)
	require.Equal(t, ValuationAverage, item.ValuationMethod)
	return item
}

func TestUpdateLockedFieldAfterMovement(t *testing.T) {
	moved := movedItems{}
	svc := NewService(newMemoryRepo(), moved, nil, nil)
	item := seedItem(t, svc)
	moved[item.ID] = true

	uom := int64(2)
	_, err := svc.Update(context.Background(), who, item.ID, UpdateItemRequest{BaseUOMID: &uom})

	require.ErrorIs(t, err, shared.ErrConflict)
	appErr, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, shared.CodeItemPolicyLocked, appErr.Code)
	require.Equal(t, []string{FieldBaseUOM}, appErr.Fields)
	require.Equal(t, "create a new item", appErr.Hint)

	name := "Widget Pro"
	updated, err := svc.Update(context.Background(), who, item.ID, UpdateItemRequest{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Widget Pro", updated.Name)
	require.Equal(t, int64(1), updated.BaseUOMID)
}

func TestUpdateReportsEveryLockedField(t *testing.T) {
	moved := movedItems{}
	svc := NewService(newMemoryRepo(), moved, nil, nil)
	item := seedItem(t, svc)
	moved[item.ID] = true

	tracking := TrackingBatch
	composite := true
	sameUOM := item.BaseUOMID
	_, err := svc.Update(context.Background(), who, item.ID, UpdateItemRequest{
		BaseUOMID:      &sameUOM,
		TrackingPolicy: &tracking,
		IsComposite:    &composite,
	})

	appErr, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, []string{FieldTrackingPolicy, FieldIsComposite}, appErr.Fields)
}

func TestUpdatePolicyFieldsBeforeMovement(t *testing.T) {
	svc := NewService(newMemoryRepo(), movedItems{}, nil, nil)
	item := seedItem(t, svc)

	uom := int64(3)
	valuation := ValuationFIFO
	updated, err := svc.Update(context.Background(), who, item.ID, UpdateItemRequest{BaseUOMID: &uom, ValuationMethod: &valuation})

	require.NoError(t, err)
	require.Equal(t, int64(3), updated.BaseUOMID)
	require.Equal(t, ValuationFIFO, updated.ValuationMethod)
}

func TestDeleteMovedItem(t *testing.T) {
	moved := movedItems{}
	repo := newMemoryRepo()
	svc := NewService(repo, moved, nil, nil)
	item := seedItem(t, svc)
	moved[item.ID] = true

	err := svc.Delete(context.Background(), who, item.ID)
	appErr, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, shared.CodeItemHasMovement, appErr.Code)
	require.Contains(t, repo.items, item.ID)

	moved[item.ID] = false
	require.NoError(t, svc.Delete(context.Background(), who, item.ID))
	require.NotContains(t, repo.items, item.ID)
}

func TestDeleteGroupWithItems(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, movedItems{}, nil, nil)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, who, CreateGroupRequest{Code: "RAW", Name: "Raw materials"})
	require.NoError(t, err)
	item, err := svc.Create(ctx, who, CreateItemRequest{GroupID: &group.ID, Code: "ITM-2", Name: "Bolt", BaseUOMID: 1})
	require.NoError(t, err)

	err = svc.DeleteGroup(ctx, who, group.ID)
	appErr, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, shared.CodeGroupHasItems, appErr.Code)

	require.NoError(t, svc.Delete(ctx, who, item.ID))
	require.NoError(t, svc.DeleteGroup(ctx, who, group.ID))
}

func TestItemGroupMustBelongToCompany(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, movedItems{}, nil, nil)
	ctx := context.Background()
	repo.groups[90] = Group{ID: 90, CompanyID: 2, Code: "FOREIGN", Name: "Other company"}
	foreign := int64(90)

	_, err := svc.Create(ctx, who, CreateItemRequest{GroupID: &foreign, Code: "ITM-9", Name: "Nut", BaseUOMID: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
	appErr, _ := shared.AsError(err)
	require.Equal(t, "group_id", appErr.Field)

	item := seedItem(t, svc)
	_, err = svc.Update(ctx, who, item.ID, UpdateItemRequest{GroupID: &foreign})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Nil(t, repo.items[item.ID].GroupID)
}

func TestGetOtherCompanyItem(t *testing.T) {
	svc := NewService(newMemoryRepo(), movedItems{}, nil, nil)
	item := seedItem(t, svc)

	_, err := svc.Get(context.Background(), shared.Identity{UserID: 7, CompanyID: 2}, item.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateHandlerReturnsLockedConflict(t *testing.T) {
	moved := movedItems{}
	svc := NewService(newMemoryRepo(), moved, nil, nil)
	item := seedItem(t, svc)
	moved[item.ID] = true

	h := NewHandler(nil, svc, rbac.Middleware{Service: staticPermissions{7: {shared.PermItemEdit}}})
	r := chi.NewRouter()
	h.MountRoutes(r)

	req := httptest.NewRequest(http.MethodPut, "/items/1", strings.NewReader(`{"base_uom_id":5}`))
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), who))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"ITEM_POLICY_LOCKED"`)
	require.Contains(t, rec.Body.String(), `"fields":["base_uom_id"]`)
}

type staticPermissions map[int64][]string

func (s staticPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}
