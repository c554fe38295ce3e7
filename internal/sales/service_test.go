package sales

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
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryRepo struct {
	customers    map[int64]Customer
	quotations   map[int64]Quotation
	orders       map[int64]SalesOrder
	reservations []inventory.Reservation
	counters     map[string]int64
	openNotes    map[int64][]string
	exposure     float64
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	limit := 1000.0
	return &memoryRepo{
		customers: map[int64]Customer{
			10: {ID: 10, CompanyID: 1, Code: "C-10", Name: "Acme", IsActive: true},
			11: {ID: 11, CompanyID: 1, Code: "C-11", Name: "Tight Budget", CreditLimit: &limit, IsActive: true},
			12: {ID: 12, CompanyID: 1, Code: "C-12", Name: "Dormant", IsActive: false},
		},
		quotations: make(map[int64]Quotation),
		orders:     make(map[int64]SalesOrder),
		counters:   make(map[string]int64),
		openNotes:  make(map[int64][]string),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Increment(_ context.Context, companyID int64, docType numbering.DocumentType, period string) (int64, error) {
	key := fmt.Sprintf("%d:%s:%s", companyID, docType, period)
	r.counters[key]++
	return r.counters[key], nil
}

// ItemExists knows items 100, 101 and 999 of company 1 and item 200 of company 2.
func (r *memoryRepo) ItemExists(_ context.Context, companyID, id int64) (bool, error) {
	switch id {
	case 100, 101, 999:
		return companyID == 1, nil
	case 200:
		return companyID == 2, nil
	}
	return false, nil
}

// WarehouseExists knows warehouse 3 of company 1 and warehouse 9 of company 2.
func (r *memoryRepo) WarehouseExists(_ context.Context, companyID, id int64) (bool, error) {
	return (companyID == 1 && id == 3) || (companyID == 2 && id == 9), nil
}

func (r *memoryRepo) OpenDeliveryNotes(_ context.Context, _, orderID int64) ([]string, error) {
	return r.openNotes[orderID], nil
}

func (r *memoryRepo) GetCustomer(_ context.Context, companyID, id int64) (Customer, error) {
	c, ok := r.customers[id]
	if !ok || c.CompanyID != companyID {
		return Customer{}, shared.NotFound("customer", id)
	}
	return c, nil
}

func (r *memoryRepo) CustomerExposure(context.Context, int64, int64) (float64, error) {
	return r.exposure, nil
}

func (r *memoryRepo) GetQuotation(_ context.Context, companyID, id int64) (Quotation, error) {
	q, ok := r.quotations[id]
	if !ok || q.CompanyID != companyID {
		return Quotation{}, shared.NotFound("quotation", id)
	}
	return q, nil
}

func (r *memoryRepo) GetQuotationForUpdate(ctx context.Context, companyID, id int64) (Quotation, error) {
	return r.GetQuotation(ctx, companyID, id)
}

func (r *memoryRepo) ListQuotations(_ context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range r.quotations {
		if q.CompanyID == req.CompanyID {
			out = append(out, q)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) InsertQuotation(_ context.Context, q Quotation) (int64, error) {
	q.ID = r.id()
	r.quotations[q.ID] = q
	return q.ID, nil
}

func (r *memoryRepo) UpdateQuotation(_ context.Context, q Quotation) error {
	q.Lines = r.quotations[q.ID].Lines
	r.quotations[q.ID] = q
	return nil
}

func (r *memoryRepo) ReplaceQuotationLines(_ context.Context, quotationID int64, lines []Line) error {
	q := r.quotations[quotationID]
	q.Lines = nil
	for _, l := range lines {
		l.ID = r.id()
		q.Lines = append(q.Lines, l)
	}
	r.quotations[quotationID] = q
	return nil
}

func (r *memoryRepo) GetOrder(_ context.Context, companyID, id int64) (SalesOrder, error) {
	o, ok := r.orders[id]
	if !ok || o.CompanyID != companyID {
		return SalesOrder{}, shared.NotFound("sales_order", id)
	}
	return o, nil
}

func (r *memoryRepo) GetOrderForUpdate(ctx context.Context, companyID, id int64) (SalesOrder, error) {
	return r.GetOrder(ctx, companyID, id)
}

func (r *memoryRepo) ListOrders(_ context.Context, req ListSalesOrdersRequest) ([]SalesOrder, int, error) {
	var out []SalesOrder
	for _, o := range r.orders {
		if o.CompanyID == req.CompanyID {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) InsertOrder(_ context.Context, o SalesOrder) (int64, error) {
	o.ID = r.id()
	o.Lines = nil
	r.orders[o.ID] = o
	return o.ID, nil
}

func (r *memoryRepo) InsertOrderLines(_ context.Context, orderID int64, lines []OrderLine) ([]OrderLine, error) {
	o := r.orders[orderID]
	for _, l := range lines {
		l.ID = r.id()
		l.OrderID = orderID
		o.Lines = append(o.Lines, l)
	}
	r.orders[orderID] = o
	return o.Lines, nil
}

func (r *memoryRepo) UpdateOrder(_ context.Context, o SalesOrder) error {
	o.Lines = r.orders[o.ID].Lines
	r.orders[o.ID] = o
	return nil
}

func (r *memoryRepo) InsertReservation(_ context.Context, res inventory.Reservation) (int64, error) {
	res.ID = r.id()
	res.Status = inventory.ReservationActive
	r.reservations = append(r.reservations, res)
	return res.ID, nil
}

func (r *memoryRepo) ReleaseReservations(_ context.Context, companyID int64, sourceType string, sourceID int64, at time.Time) (int64, error) {
	var n int64
	for i, res := range r.reservations {
		if res.CompanyID == companyID && res.SourceType == sourceType && res.SourceID == sourceID && res.Status == inventory.ReservationActive {
			r.reservations[i].Status = inventory.ReservationReleased
			r.reservations[i].UpdatedAt = at
			n++
		}
	}
	return n, nil
}

type priceTable map[int64]float64

func (p priceTable) GetPrice(_ context.Context, q pricing.Query) (*pricing.Result, error) {
	price, ok := p[q.ItemID]
	if !ok {
		return nil, nil
	}
	return &pricing.Result{UnitPrice: price, Source: pricing.SourceCustomer, UOMID: 1, MinQty: 1}, nil
}

type staticPermissions map[int64][]string

func (s staticPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

var (
	who   = shared.Identity{UserID: 7, CompanyID: 1}
	today = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
)

func newTestService(repo *memoryRepo, perms staticPermissions) *Service {
	clock := func() time.Time { return today }
	return NewService(Deps{
		Repo:    repo,
		Prices:  priceTable{100: 42.5, 101: 300},
		Numbers: numbering.NewGenerator(nil).WithNow(clock),
		Checker: rbac.Checker{Source: perms},
		Clock:   clock,
	})
}

func customerID(id int64) *int64 { return &id }

func quotationRequest(customer *int64, qty float64) CreateQuotationRequest {
	return CreateQuotationRequest{
		CustomerID: customer,
		QuoteDate:  today,
		ValidUntil: today.AddDate(0, 0, 14),
		Currency:   "IDR",
		Lines:      []LineRequest{{ItemID: 100, Quantity: qty, TaxPercent: 10}},
	}
}

func TestQuotationLifecycleConvertsToOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	q, err := svc.CreateQuotation(ctx, who, quotationRequest(customerID(10), 10))
	require.NoError(t, err)
	require.Equal(t, "QT-2026-00001", q.DocNumber)
	require.Equal(t, QuotationStatusDraft, q.Status)
	require.Len(t, q.Lines, 1)
	assert.Equal(t, 42.5, q.Lines[0].UnitPrice)
	assert.Equal(t, string(pricing.SourceCustomer), q.Lines[0].PriceSource)
	assert.Equal(t, 467.5, q.Lines[0].LineTotal)
	assert.Equal(t, 425.0, q.Subtotal)
	assert.Equal(t, 467.5, q.TotalAmount)

	_, err = svc.SendQuotation(ctx, who, q.ID)
	require.NoError(t, err)
	_, err = svc.AcceptQuotation(ctx, who, q.ID)
	require.NoError(t, err)

	order, err := svc.ConvertQuotation(ctx, who, q.ID, ConvertQuotationRequest{})
	require.NoError(t, err)
	require.Equal(t, "SO-2026-00001", order.DocNumber)
	require.Equal(t, SalesOrderStatusDraft, order.Status)
	require.NotNil(t, order.QuotationID)
	require.Equal(t, q.ID, *order.QuotationID)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, q.Lines[0].LineTotal, order.Lines[0].LineTotal)
	assert.Equal(t, q.TotalAmount, order.TotalAmount)
	assert.Equal(t, CreditPassed, order.Credit.Status)

	stored := repo.quotations[q.ID]
	require.Equal(t, QuotationStatusConverted, stored.Status)
	require.NotNil(t, stored.ConvertedToOrderID)
	require.Equal(t, order.ID, *stored.ConvertedToOrderID)

	_, err = svc.ConvertQuotation(ctx, who, q.ID, ConvertQuotationRequest{})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateQuotationOnlyInDraft(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	ctx := context.Background()

	q, err := svc.CreateQuotation(ctx, who, quotationRequest(customerID(10), 1))
	require.NoError(t, err)

	updated, err := svc.UpdateQuotation(ctx, who, q.ID, quotationRequest(customerID(10), 4))
	require.NoError(t, err)
	require.Equal(t, 170.0, updated.Subtotal)

	_, err = svc.SendQuotation(ctx, who, q.ID)
	require.NoError(t, err)
	_, err = svc.UpdateQuotation(ctx, who, q.ID, quotationRequest(customerID(10), 2))
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, err.Error(), "SENT")
}

func TestCreateQuotationWithoutPrice(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	req := quotationRequest(customerID(10), 1)
	req.Lines = []LineRequest{{ItemID: 999, Quantity: 1}}

	_, err := svc.CreateQuotation(context.Background(), who, req)

	require.ErrorIs(t, err, shared.ErrValidation)
	appErr, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, shared.CodePriceNotFound, appErr.Code)
	require.Equal(t, "999", appErr.EntityID)
}

func TestManualPriceWinsOverResolver(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	price := 50.0
	req := quotationRequest(customerID(10), 2)
	req.Lines[0].UnitPrice = &price
	req.Lines[0].TaxPercent = 0

	q, err := svc.CreateQuotation(context.Background(), who, req)

	require.NoError(t, err)
	require.Equal(t, PriceSourceManual, q.Lines[0].PriceSource)
	require.Equal(t, 100.0, q.TotalAmount)
}

func TestAcceptExpiredQuotation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	req := quotationRequest(customerID(10), 1)
	req.QuoteDate = today.AddDate(0, -1, 0)
	req.ValidUntil = today.AddDate(0, 0, -1)

	q, err := svc.CreateQuotation(ctx, who, req)
	require.NoError(t, err)
	_, err = svc.SendQuotation(ctx, who, q.ID)
	require.NoError(t, err)

	_, err = svc.AcceptQuotation(ctx, who, q.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, err.Error(), "expired")

	_, err = svc.RejectQuotation(ctx, who, q.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	rejected, err := svc.RejectQuotation(ctx, who, q.ID, "too late")
	require.NoError(t, err)
	require.Equal(t, QuotationStatusRejected, rejected.Status)
}

func TestConvertProspectQuotationNeedsCustomer(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	ctx := context.Background()
	prospect := "Walk-in Ltd"
	req := quotationRequest(nil, 1)
	req.ProspectName = &prospect

	q, err := svc.CreateQuotation(ctx, who, req)
	require.NoError(t, err)
	_, err = svc.SendQuotation(ctx, who, q.ID)
	require.NoError(t, err)

	_, err = svc.ConvertQuotation(ctx, who, q.ID, ConvertQuotationRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)

	order, err := svc.ConvertQuotation(ctx, who, q.ID, ConvertQuotationRequest{CustomerID: customerID(10)})
	require.NoError(t, err)
	require.Equal(t, int64(10), order.CustomerID)
}

func TestEvaluateCredit(t *testing.T) {
	limit := 1000.0
	zero := 0.0
	cases := []struct {
		name     string
		limit    *float64
		exposure float64
		total    float64
		want     CreditStatus
	}{
		{"no limit", nil, 5000, 5000, CreditPassed},
		{"zero limit means unlimited", &zero, 5000, 1, CreditPassed},
		{"within limit", &limit, 400, 600, CreditPassed},
		{"over limit", &limit, 400, 600.01, CreditFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateCredit(tc.limit, tc.exposure, tc.total)
			require.Equal(t, tc.want, got.Status)
		})
	}
}

func orderRequest(customer int64, itemID int64, qty float64) CreateSalesOrderRequest {
	warehouse := int64(3)
	return CreateSalesOrderRequest{
		CustomerID:  customer,
		WarehouseID: &warehouse,
		OrderDate:   today,
		Currency:    "IDR",
		Lines:       []LineRequest{{ItemID: itemID, Quantity: qty}},
	}
}

func TestOrderOverCreditLimitNeedsApproval(t *testing.T) {
	repo := newMemoryRepo()
	repo.exposure = 400
	svc := newTestService(repo, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, who, orderRequest(11, 101, 3))
	require.NoError(t, err)
	require.Equal(t, CreditFailed, order.Credit.Status)
	require.Equal(t, 1300.0, order.Credit.Exposure)

	_, err = svc.ConfirmOrder(ctx, who, order.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	appErr, _ := shared.AsError(err)
	require.Equal(t, shared.CodeApprovalRequired, appErr.Code)

	_, err = svc.ApproveOrder(ctx, who, order.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	approved, err := svc.ApproveOrder(ctx, who, order.ID, "long-standing customer")
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusApproved, approved.Status)
	require.Equal(t, "long-standing customer", *approved.OverrideReason)

	confirmed, err := svc.ConfirmOrder(ctx, who, order.ID)
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusConfirmed, confirmed.Status)
	require.Len(t, repo.reservations, 1)
	res := repo.reservations[0]
	assert.Equal(t, inventory.RefSalesOrder, res.SourceType)
	assert.Equal(t, order.ID, res.SourceID)
	assert.Equal(t, order.Lines[0].ID, res.SourceLineID)
	assert.Equal(t, 3.0, res.ReservedQty)
	assert.Equal(t, inventory.ReservationActive, res.Status)
}

func TestSkipCreditCheckRequiresOverride(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()
	req := orderRequest(11, 101, 10)
	req.SkipCreditCheck = true

	_, err := newTestService(repo, staticPermissions{}).CreateOrder(ctx, who, req)
	require.ErrorIs(t, err, shared.ErrForbidden)

	svc := newTestService(repo, staticPermissions{7: {shared.PermSalesOrderCreditOverride}})
	order, err := svc.CreateOrder(ctx, who, req)
	require.NoError(t, err)
	require.Equal(t, CreditSkipped, order.Credit.Status)

	confirmed, err := svc.ConfirmOrder(ctx, who, order.ID)
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusConfirmed, confirmed.Status)
}

func TestCreateOrderForInactiveCustomer(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)

	_, err := svc.CreateOrder(context.Background(), who, orderRequest(12, 100, 1))

	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelOrderReleasesReservations(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, who, orderRequest(10, 100, 5))
	require.NoError(t, err)
	_, err = svc.ConfirmOrder(ctx, who, order.ID)
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, who, order.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	cancelled, err := svc.CancelOrder(ctx, who, order.ID, "customer withdrew")
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusCancelled, cancelled.Status)
	require.Equal(t, inventory.ReservationReleased, repo.reservations[0].Status)

	_, err = svc.CancelOrder(ctx, who, order.ID, "again")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCancelOrderWithOpenDeliveryNote(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, who, orderRequest(10, 100, 5))
	require.NoError(t, err)
	_, err = svc.ConfirmOrder(ctx, who, order.ID)
	require.NoError(t, err)
	repo.openNotes[order.ID] = []string{"DN-2026-00004"}

	_, err = svc.CancelOrder(ctx, who, order.ID, "customer withdrew")
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, err.Error(), "DN-2026-00004")
	require.Equal(t, SalesOrderStatusConfirmed, repo.orders[order.ID].Status)
	require.Equal(t, inventory.ReservationActive, repo.reservations[0].Status)

	delete(repo.openNotes, order.ID)
	cancelled, err := svc.CancelOrder(ctx, who, order.ID, "customer withdrew")
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusCancelled, cancelled.Status)
}

func TestCancelPartiallyDeliveredOrderReleasesRemainder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, who, orderRequest(10, 100, 5))
	require.NoError(t, err)
	_, err = svc.ConfirmOrder(ctx, who, order.ID)
	require.NoError(t, err)
	stored := repo.orders[order.ID]
	stored.Status = SalesOrderStatusPartiallyDelivered
	stored.Lines[0].DeliveredQty = 2
	repo.orders[order.ID] = stored

	cancelled, err := svc.CancelOrder(ctx, who, order.ID, "rest no longer needed")
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusCancelled, cancelled.Status)
	require.Equal(t, 2.0, cancelled.Lines[0].DeliveredQty)
	require.Equal(t, inventory.ReservationReleased, repo.reservations[0].Status)

	stored = repo.orders[order.ID]
	stored.Status = SalesOrderStatusDelivered
	repo.orders[order.ID] = stored
	_, err = svc.CancelOrder(ctx, who, order.ID, "too late")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestConfirmOrderNeedsWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	req := orderRequest(10, 100, 5)
	req.WarehouseID = nil

	order, err := svc.CreateOrder(ctx, who, req)
	require.NoError(t, err)

	_, err = svc.ConfirmOrder(ctx, who, order.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
	appErr, _ := shared.AsError(err)
	require.Equal(t, "warehouse_id", appErr.Field)
	require.Empty(t, repo.reservations)
	require.Equal(t, SalesOrderStatusDraft, repo.orders[order.ID].Status)
}

func TestWritesRejectOtherCompanyReferences(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	manual := 10.0
	req := quotationRequest(customerID(10), 1)
	req.Lines = []LineRequest{{ItemID: 100, Quantity: 1}, {ItemID: 200, Quantity: 1, UnitPrice: &manual}}
	_, err := svc.CreateQuotation(ctx, who, req)
	require.ErrorIs(t, err, shared.ErrNotFound)
	appErr, _ := shared.AsError(err)
	require.Equal(t, "items[1].item_id", appErr.Field)

	foreign := int64(9)
	orderReq := orderRequest(10, 100, 1)
	orderReq.WarehouseID = &foreign
	_, err = svc.CreateOrder(ctx, who, orderReq)
	require.ErrorIs(t, err, shared.ErrNotFound)
	appErr, _ = shared.AsError(err)
	require.Equal(t, "warehouse_id", appErr.Field)

	q, err := svc.CreateQuotation(ctx, who, quotationRequest(customerID(10), 1))
	require.NoError(t, err)
	_, err = svc.SendQuotation(ctx, who, q.ID)
	require.NoError(t, err)
	_, err = svc.ConvertQuotation(ctx, who, q.ID, ConvertQuotationRequest{WarehouseID: &foreign})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, QuotationStatusSent, repo.quotations[q.ID].Status)
	require.Empty(t, repo.orders)
}

func TestProgressStatus(t *testing.T) {
	lines := []OrderLine{
		{Line: Line{Quantity: 10}, DeliveredQty: 10},
		{Line: Line{Quantity: 5}},
	}
	require.Equal(t, SalesOrderStatusPartiallyDelivered, ProgressStatus(lines, SalesOrderStatusConfirmed))

	lines[1].DeliveredQty = 6
	require.Equal(t, SalesOrderStatusDelivered, ProgressStatus(lines, SalesOrderStatusPartiallyDelivered))

	require.Equal(t, SalesOrderStatusConfirmed, ProgressStatus([]OrderLine{{Line: Line{Quantity: 1}}}, SalesOrderStatusConfirmed))
	require.Equal(t, SalesOrderStatusCancelled, ProgressStatus(lines, SalesOrderStatusCancelled))
}

func TestSendQuotationHandler(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	q, err := svc.CreateQuotation(context.Background(), who, quotationRequest(customerID(10), 1))
	require.NoError(t, err)

	h := NewHandler(nil, svc, rbac.Middleware{Service: staticPermissions{7: {shared.PermQuotationSend}}})
	r := chi.NewRouter()
	h.MountRoutes(r)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/quotations/%d/send", q.ID), strings.NewReader(`{}`))
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), who))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "QT-2026-00001 sent")

	rec = send()
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"INVALID_STATUS"`)
}
