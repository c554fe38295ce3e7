package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type balanceKey struct{ item, warehouse int64 }

type memoryRepo struct {
	notes        map[int64]Note
	orders       map[int64]sales.SalesOrder
	balances     map[balanceKey]inventory.Balance
	movements    []inventory.Movement
	reservations []inventory.Reservation
	counters     map[string]int64
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	uom := int64(1)
	warehouse := int64(3)
	r := &memoryRepo{
		notes:    make(map[int64]Note),
		orders:   make(map[int64]sales.SalesOrder),
		balances: make(map[balanceKey]inventory.Balance),
		counters: make(map[string]int64),
		nextID:   1000,
	}
	r.orders[50] = sales.SalesOrder{
		ID: 50, DocNumber: "SO-2026-00001", CompanyID: 1, CustomerID: 10, WarehouseID: &warehouse,
		Status: sales.SalesOrderStatusConfirmed,
		Lines: []sales.OrderLine{
			{Line: sales.Line{ID: 501, ItemID: 100, UOMID: &uom, Quantity: 10, UnitPrice: 42.5}, OrderID: 50},
			{Line: sales.Line{ID: 502, ItemID: 101, Quantity: 4, UnitPrice: 300}, OrderID: 50},
		},
	}
	r.orders[51] = sales.SalesOrder{ID: 51, DocNumber: "SO-2026-00002", CompanyID: 1, CustomerID: 10, Status: sales.SalesOrderStatusDraft}
	r.reservations = []inventory.Reservation{
		{ID: 1, CompanyID: 1, ItemID: 100, WarehouseID: &warehouse, SourceType: inventory.RefSalesOrder, SourceID: 50, SourceLineID: 501, ReservedQty: 10, Status: inventory.ReservationActive},
		{ID: 2, CompanyID: 1, ItemID: 101, WarehouseID: &warehouse, SourceType: inventory.RefSalesOrder, SourceID: 50, SourceLineID: 502, ReservedQty: 4, Status: inventory.ReservationActive},
	}
	r.balances[balanceKey{100, 3}] = inventory.Balance{CompanyID: 1, ItemID: 100, WarehouseID: 3, Qty: 25, AvgCost: 20}
	r.balances[balanceKey{101, 3}] = inventory.Balance{CompanyID: 1, ItemID: 101, WarehouseID: 3, Qty: 4, AvgCost: 150}
	return r
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Get(_ context.Context, companyID, id int64) (Note, error) {
	n, ok := r.notes[id]
	if !ok || n.CompanyID != companyID {
		return Note{}, shared.NotFound("delivery_note", id)
	}
	return n, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, companyID, id int64) (Note, error) {
	return r.Get(ctx, companyID, id)
}

func (r *memoryRepo) List(_ context.Context, req ListRequest) ([]Note, int, error) {
	var out []Note
	for _, n := range r.notes {
		if n.CompanyID == req.CompanyID && (req.SalesOrderID == nil || n.SalesOrderID == *req.SalesOrderID) {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) Increment(_ context.Context, companyID int64, docType numbering.DocumentType, period string) (int64, error) {
	key := fmt.Sprintf("%d:%s:%s", companyID, docType, period)
	r.counters[key]++
	return r.counters[key], nil
}

func (r *memoryRepo) GetOrderForUpdate(_ context.Context, companyID, id int64) (sales.SalesOrder, error) {
	o, ok := r.orders[id]
	if !ok || o.CompanyID != companyID {
		return sales.SalesOrder{}, shared.NotFound("sales_order", id)
	}
	o.Lines = append([]sales.OrderLine(nil), o.Lines...)
	return o, nil
}

func (r *memoryRepo) AddDeliveredQty(_ context.Context, orderID, lineID int64, qty float64) error {
	o := r.orders[orderID]
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			o.Lines[i].DeliveredQty += qty
		}
	}
	r.orders[orderID] = o
	return nil
}

func (r *memoryRepo) SetOrderStatus(_ context.Context, orderID int64, status sales.SalesOrderStatus, at time.Time) error {
	o := r.orders[orderID]
	o.Status = status
	o.UpdatedAt = at
	r.orders[orderID] = o
	return nil
}

func (r *memoryRepo) GetBalanceForUpdate(_ context.Context, _, itemID, warehouseID int64) (inventory.Balance, bool, error) {
	b, ok := r.balances[balanceKey{itemID, warehouseID}]
	return b, ok, nil
}

func (r *memoryRepo) UpsertBalance(_ context.Context, b inventory.Balance) error {
	r.balances[balanceKey{b.ItemID, b.WarehouseID}] = b
	return nil
}

func (r *memoryRepo) InsertMovement(_ context.Context, m inventory.Movement) (int64, error) {
	m.ID = r.id()
	r.movements = append(r.movements, m)
	return m.ID, nil
}

func (r *memoryRepo) LockActiveReservations(_ context.Context, companyID int64, sourceType string, sourceID, sourceLineID, itemID int64) ([]inventory.Reservation, error) {
	var out []inventory.Reservation
	for _, res := range r.reservations {
		if res.CompanyID == companyID && res.SourceType == sourceType && res.SourceID == sourceID &&
			res.SourceLineID == sourceLineID && res.ItemID == itemID && res.Status == inventory.ReservationActive {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateReservation(_ context.Context, res inventory.Reservation) error {
	for i := range r.reservations {
		if r.reservations[i].ID == res.ID {
			r.reservations[i] = res
		}
	}
	return nil
}

func (r *memoryRepo) Insert(_ context.Context, n Note) (int64, error) {
	n.ID = r.id()
	r.notes[n.ID] = n
	return n.ID, nil
}

func (r *memoryRepo) InsertLines(_ context.Context, noteID int64, lines []Line) ([]Line, error) {
	n := r.notes[noteID]
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.ID = r.id()
		l.DeliveryNoteID = noteID
		out = append(out, l)
	}
	n.Lines = out
	r.notes[noteID] = n
	return out, nil
}

func (r *memoryRepo) Update(_ context.Context, n Note) error {
	r.notes[n.ID] = n
	return nil
}

func (r *memoryRepo) OpenQuantities(_ context.Context, orderID int64) (map[int64]float64, error) {
	out := make(map[int64]float64)
	for _, n := range r.notes {
		if n.SalesOrderID != orderID || !n.Status.Open() {
			continue
		}
		for _, l := range n.Lines {
			out[l.SalesOrderItemID] += l.DeliveredQty
		}
	}
	return out, nil
}

func (r *memoryRepo) ItemExists(_ context.Context, companyID, id int64) (bool, error) {
	return companyID == 1 && (id == 100 || id == 101), nil
}

// WarehouseExists knows warehouse 3 of company 1 and warehouse 9 of company 2.
func (r *memoryRepo) WarehouseExists(_ context.Context, companyID, id int64) (bool, error) {
	return (companyID == 1 && id == 3) || (companyID == 2 && id == 9), nil
}

func (r *memoryRepo) ItemBaseUOM(_ context.Context, _, itemID int64) (int64, error) {
	if itemID == 101 {
		return 2, nil
	}
	return 0, shared.NotFound("item", itemID)
}

func (r *memoryRepo) movementsOf(noteID int64) []inventory.Movement {
	var out []inventory.Movement
	for _, m := range r.movements {
		if m.ReferenceType == inventory.RefDeliveryNote && m.ReferenceID == noteID {
			out = append(out, m)
		}
	}
	return out
}

type recordingMetrics struct{ events []string }

func (m *recordingMetrics) DocumentEvent(document, event string) {
	m.events = append(m.events, document+":"+event)
}

var (
	who   = shared.Identity{UserID: 7, CompanyID: 1}
	today = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
)

func newTestService(repo *memoryRepo) (*Service, *recordingMetrics) {
	clock := func() time.Time { return today }
	metrics := &recordingMetrics{}
	return NewService(Deps{
		Repo:    repo,
		Numbers: numbering.NewGenerator(nil).WithNow(clock),
		Metrics: metrics,
		Clock:   clock,
	}), metrics
}

func TestFullDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, metrics := newTestService(repo)

	n, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)
	assert.Equal(t, "DN-2026-00001", n.DocNumber)
	assert.Equal(t, StatusDraft, n.Status)
	require.Len(t, n.Lines, 2)
	assert.Equal(t, int64(1), n.Lines[0].UOMID)
	assert.Equal(t, int64(2), n.Lines[1].UOMID, "falls back to the item's base uom")
	assert.Equal(t, 10.0, n.Lines[0].DeliveredQty)

	n, err = svc.PostInventory(ctx, who, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, n.Status)
	assert.True(t, n.InventoryPosted)
	movements := repo.movementsOf(n.ID)
	require.Len(t, movements, 2)
	assert.Equal(t, inventory.MovementGoodsIssue, movements[0].Type)
	assert.Equal(t, -10.0, movements[0].Quantity)
	assert.Equal(t, 15.0, repo.balances[balanceKey{100, 3}].Qty)
	assert.Equal(t, 0.0, repo.balances[balanceKey{101, 3}].Qty)

	n, err = svc.Dispatch(ctx, who, n.ID, DispatchRequest{TrackingNumber: ptr("TRK-1")})
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, n.Status)

	n, err = svc.ConfirmDelivery(ctx, who, n.ID, "Ali")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, n.Status)
	require.NotNil(t, n.ReceivedBy)
	assert.Equal(t, "Ali", *n.ReceivedBy)
	assert.Len(t, repo.movementsOf(n.ID), 2, "confirming a posted note writes no new movements")

	order := repo.orders[50]
	assert.Equal(t, sales.SalesOrderStatusDelivered, order.Status)
	assert.Equal(t, 10.0, order.Lines[0].DeliveredQty)
	for _, res := range repo.reservations {
		assert.Equal(t, inventory.ReservationFulfilled, res.Status)
	}
	assert.Contains(t, metrics.events, "delivery_note:confirm_delivery")
}

func TestPostInventoryTwiceLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	n, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)
	_, err = svc.PostInventory(ctx, who, n.ID)
	require.NoError(t, err)

	_, err = svc.PostInventory(ctx, who, n.ID)
	require.Error(t, err)
	e, ok := shared.AsError(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeInvalidStatus, e.Code)
	assert.Contains(t, e.Message, "already posted")
	assert.Len(t, repo.movementsOf(n.ID), 2)
	assert.Equal(t, 15.0, repo.balances[balanceKey{100, 3}].Qty)
}

func TestConfirmDraftPostsInventoryOnce(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	n, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)

	n, err = svc.ConfirmDelivery(ctx, who, n.ID, "Ali")
	require.NoError(t, err)
	assert.True(t, n.InventoryPosted)
	assert.Len(t, repo.movementsOf(n.ID), 2)

	_, err = svc.ConfirmDelivery(ctx, who, n.ID, "Ali")
	require.Error(t, err)
	assert.Len(t, repo.movementsOf(n.ID), 2)
}

func TestConfirmRequiresReceiver(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	_, err := svc.ConfirmDelivery(context.Background(), who, 1, "")
	e, ok := shared.AsError(err)
	require.True(t, ok)
	assert.Equal(t, shared.KindValidation, e.Kind)
	assert.Equal(t, "received_by", e.Field)
}

func TestPartialDeliveryAdvancesOrder(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	n, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{
		SalesOrderID: 50, WarehouseID: 3,
		Items: []LineQuantity{{SalesOrderItemID: 501, Quantity: 4}},
	})
	require.NoError(t, err)
	require.Len(t, n.Lines, 1)

	_, err = svc.ConfirmDelivery(ctx, who, n.ID, "Ali")
	require.NoError(t, err)
	order := repo.orders[50]
	assert.Equal(t, sales.SalesOrderStatusPartiallyDelivered, order.Status)
	assert.Equal(t, 4.0, order.Lines[0].DeliveredQty)
	assert.Equal(t, inventory.ReservationActive, repo.reservations[0].Status)
	assert.Equal(t, 4.0, repo.reservations[0].FulfilledQty)

	rest, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)
	require.Len(t, rest.Lines, 2)
	assert.Equal(t, 6.0, rest.Lines[0].DeliveredQty)
	assert.Equal(t, 4.0, rest.Lines[1].DeliveredQty)
}

func TestCreateSubtractsOpenNotes(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)

	_, err = svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	e, ok := shared.AsError(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeInvalidStatus, e.Code)
	assert.Contains(t, e.Message, "nothing left to deliver")

	_, err = svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{
		SalesOrderID: 50, WarehouseID: 3,
		Items: []LineQuantity{{SalesOrderItemID: 501, Quantity: 1}},
	})
	e, ok = shared.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "items[0].quantity", e.Field)
}

func TestCreateRejectsUndeliverableOrder(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	_, err := svc.CreateFromOrder(context.Background(), who, CreateFromOrderRequest{SalesOrderID: 51, WarehouseID: 3})
	e, ok := shared.AsError(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeInvalidStatus, e.Code)
	assert.Contains(t, e.Message, "DRAFT")
}

func TestCreateRejectsOtherCompanyWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateFromOrder(context.Background(), who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 9})

	require.ErrorIs(t, err, shared.ErrNotFound)
	e, _ := shared.AsError(err)
	assert.Equal(t, "warehouse_id", e.Field)
	assert.Empty(t, repo.notes)
}

func TestCancelledOrderFreezesItsNotes(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	ready, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{
		SalesOrderID: 50, WarehouseID: 3,
		Items: []LineQuantity{{SalesOrderItemID: 501, Quantity: 4}},
	})
	require.NoError(t, err)
	_, err = svc.PostInventory(ctx, who, ready.ID)
	require.NoError(t, err)
	draft, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{
		SalesOrderID: 50, WarehouseID: 3,
		Items: []LineQuantity{{SalesOrderItemID: 502, Quantity: 4}},
	})
	require.NoError(t, err)

	order := repo.orders[50]
	order.Status = sales.SalesOrderStatusCancelled
	repo.orders[50] = order

	_, err = svc.PostInventory(ctx, who, draft.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	assert.Contains(t, err.Error(), "CANCELLED")
	assert.Empty(t, repo.movementsOf(draft.ID))
	assert.Equal(t, 4.0, repo.balances[balanceKey{101, 3}].Qty)

	_, err = svc.Dispatch(ctx, who, ready.ID, DispatchRequest{})
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.ConfirmDelivery(ctx, who, ready.ID, "Ali")
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.ConfirmDelivery(ctx, who, draft.ID, "Ali")
	require.ErrorIs(t, err, shared.ErrConflict)

	assert.Equal(t, sales.SalesOrderStatusCancelled, repo.orders[50].Status)
	assert.Equal(t, 0.0, repo.orders[50].Lines[0].DeliveredQty)
	assert.Equal(t, StatusReady, repo.notes[ready.ID].Status)
	assert.Equal(t, StatusDraft, repo.notes[draft.ID].Status)
}

func TestPostInventoryRefusesNegativeStock(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.balances[balanceKey{101, 3}] = inventory.Balance{CompanyID: 1, ItemID: 101, WarehouseID: 3, Qty: 1}
	svc, _ := newTestService(repo)

	n, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)
	_, err = svc.PostInventory(ctx, who, n.ID)
	require.ErrorIs(t, err, inventory.ErrNegativeStock)
}

func TestCancelDraftOnly(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	_, err := svc.Cancel(ctx, who, 1, "")
	require.Error(t, err)

	n, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)
	n, err = svc.Cancel(ctx, who, n.ID, "customer called off")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, n.Status)

	// cancelled notes no longer hold quantity
	again, err := svc.CreateFromOrder(ctx, who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)
	_, err = svc.PostInventory(ctx, who, again.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, who, again.ID, "too late")
	e, ok := shared.AsError(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeInvalidStatus, e.Code)
}

type staticPermissions map[int64][]string

func (s staticPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

func TestPostInventoryHandler(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	n, err := svc.CreateFromOrder(context.Background(), who, CreateFromOrderRequest{SalesOrderID: 50, WarehouseID: 3})
	require.NoError(t, err)

	h := NewHandler(nil, svc, rbac.Middleware{Service: staticPermissions{7: {shared.PermDeliveryNotePost}}}, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/delivery-notes/%d/post-inventory", n.ID), strings.NewReader(""))
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), who))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "DN-2026-00001 posted to inventory")

	rec = post()
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), shared.CodeInvalidStatus)
}

func ptr[T any](v T) *T { return &v }
