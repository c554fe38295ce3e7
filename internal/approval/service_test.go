package approval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type stamp struct {
	status    string
	requestID *int64
}

type memoryRepo struct {
	workflows []Workflow
	requests  map[int64]*Request
	history   []HistoryEntry
	documents map[string]*string
	stamps    map[string]stamp
	nextID    int64
	notified  []Request
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests:  make(map[int64]*Request),
		documents: make(map[string]*string),
		stamps:    make(map[string]stamp),
	}
}

func docKey(docType string, id int64) string { return fmt.Sprintf("%s:%d", docType, id) }

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshotReq := make(map[int64]Request, len(r.requests))
	for id, req := range r.requests {
		snapshotReq[id] = *req
	}
	historyLen := len(r.history)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.requests = make(map[int64]*Request, len(snapshotReq))
		for id, req := range snapshotReq {
			req := req
			r.requests[id] = &req
		}
		r.history = r.history[:historyLen]
		return err
	}
	return nil
}

func (r *memoryRepo) ListActiveWorkflows(_ context.Context, companyID int64, module string) ([]Workflow, error) {
	var out []Workflow
	for _, wf := range r.workflows {
		if wf.CompanyID == companyID && wf.Module == module {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (r *memoryRepo) FindPendingRequest(_ context.Context, companyID int64, documentType string, documentID int64) (Request, bool, error) {
	for _, req := range r.requests {
		if req.CompanyID == companyID && req.DocumentType == documentType && req.DocumentID == documentID && req.Status == StatusPending {
			return *req, true, nil
		}
	}
	return Request{}, false, nil
}

func (r *memoryRepo) GetDocumentApprovalStatus(_ context.Context, documentType string, documentID int64) (*string, error) {
	status, ok := r.documents[docKey(documentType, documentID)]
	if !ok {
		return nil, shared.NotFound(documentType, documentID)
	}
	return status, nil
}

func (r *memoryRepo) GetRequest(_ context.Context, id int64) (Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return Request{}, shared.NotFound("approval request", id)
	}
	return *req, nil
}

func (r *memoryRepo) ListPending(ctx context.Context, filter PendingFilter) ([]Request, error) {
	var out []Request
	for _, req := range r.requests {
		if visible(*req, filter) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *memoryRepo) CountPending(ctx context.Context, filter PendingFilter) (int, error) {
	list, _ := r.ListPending(ctx, filter)
	return len(list), nil
}

func visible(req Request, filter PendingFilter) bool {
	if req.Status != StatusPending {
		return false
	}
	if filter.CompanyID != nil && req.CompanyID != *filter.CompanyID {
		return false
	}
	if filter.Roles == nil {
		return true
	}
	for _, role := range filter.Roles {
		if role == shared.NormalizeRoleName(req.ApprovalRole) {
			return true
		}
	}
	return false
}

func (r *memoryRepo) ListHistory(_ context.Context, requestID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, h := range r.history {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryRepo) ApprovalRequested(_ context.Context, req Request) error {
	r.notified = append(r.notified, req)
	return nil
}

func (tx *memoryTx) InsertRequest(_ context.Context, req Request) (int64, error) {
	for _, existing := range tx.repo.requests {
		if existing.DocumentType == req.DocumentType && existing.DocumentID == req.DocumentID && existing.Status == StatusPending {
			return 0, ErrDuplicatePending
		}
	}
	tx.repo.nextID++
	req.ID = tx.repo.nextID
	tx.repo.requests[req.ID] = &req
	return req.ID, nil
}

func (tx *memoryTx) FindPendingRequest(ctx context.Context, companyID int64, documentType string, documentID int64) (Request, bool, error) {
	return tx.repo.FindPendingRequest(ctx, companyID, documentType, documentID)
}

func (tx *memoryTx) GetRequestForUpdate(ctx context.Context, id int64) (Request, error) {
	return tx.repo.GetRequest(ctx, id)
}

func (tx *memoryTx) UpdateDecision(_ context.Context, id int64, status Status, reviewer int64, notes string, at time.Time) error {
	req := tx.repo.requests[id]
	req.Status = status
	req.ReviewedBy = &reviewer
	req.ReviewedAt = &at
	req.Notes = notes
	return nil
}

func (tx *memoryTx) InsertHistory(_ context.Context, entry HistoryEntry) error {
	tx.repo.history = append(tx.repo.history, entry)
	return nil
}

func (tx *memoryTx) StampDocument(_ context.Context, documentType string, documentID, _ int64, approvalStatus string, requestID *int64) error {
	key := docKey(documentType, documentID)
	if _, ok := tx.repo.documents[key]; !ok {
		return shared.NotFound(documentType, documentID)
	}
	status := approvalStatus
	tx.repo.documents[key] = &status
	tx.repo.stamps[key] = stamp{status: approvalStatus, requestID: requestID}
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func seededService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	repo.workflows = []Workflow{
		{ID: 1, CompanyID: 1, Module: DocSalesInvoice, Name: "Supervisor", MinAmount: 5000, MaxAmount: floatPtr(50000), ApprovalRole: "Finance Manager", IsActive: true},
		{ID: 2, CompanyID: 1, Module: DocSalesInvoice, Name: "Director", MinAmount: 50000, ApprovalRole: "director", IsActive: true},
		{ID: 3, CompanyID: 1, Module: DocSalesInvoice, Name: "Retired", MinAmount: 1000, ApprovalRole: "clerk", IsActive: false},
	}
	repo.documents[docKey(DocSalesInvoice, 100)] = nil
	return NewService(repo, repo, nil, nil), repo
}

func manager() shared.Identity {
	return shared.Identity{UserID: 7, CompanyID: 1, Roles: shared.ParseRoles([]string{"finance_manager"})}
}

func TestSelectWorkflowBands(t *testing.T) {
	svc, _ := seededService()
	ctx := context.Background()

	d, err := svc.CheckNeedsApproval(ctx, 1, DocSalesInvoice, 4999.99)
	require.NoError(t, err)
	require.False(t, d.NeedsApproval)

	d, err = svc.CheckNeedsApproval(ctx, 1, DocSalesInvoice, 10000)
	require.NoError(t, err)
	require.True(t, d.NeedsApproval)
	require.Equal(t, int64(1), *d.WorkflowID)
	require.Equal(t, "Finance Manager", d.ApprovalRole)

	d, err = svc.CheckNeedsApproval(ctx, 1, DocSalesInvoice, 50000)
	require.NoError(t, err)
	require.Equal(t, int64(2), *d.WorkflowID)

	d, err = svc.CheckNeedsApproval(ctx, 2, DocSalesInvoice, 50000)
	require.NoError(t, err)
	require.False(t, d.NeedsApproval)
}

func createFor(t *testing.T, svc *Service, amount float64) (Request, bool) {
	t.Helper()
	d, err := svc.CheckNeedsApproval(context.Background(), 1, DocSalesInvoice, amount)
	require.NoError(t, err)
	req, created, err := svc.CreateApprovalRequest(context.Background(), CreateRequestInput{
		CompanyID:      1,
		Decision:       d,
		Module:         DocSalesInvoice,
		DocumentType:   DocSalesInvoice,
		DocumentID:     100,
		DocumentNumber: "INV-2024-00001",
		Amount:         amount,
		RequestedBy:    3,
	})
	require.NoError(t, err)
	return req, created
}

func TestCreateApprovalRequestIsIdempotent(t *testing.T) {
	svc, repo := seededService()

	first, created := createFor(t, svc, 10000)
	require.True(t, created)
	second, created := createFor(t, svc, 10000)
	require.False(t, created)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.requests, 1)
	require.Len(t, repo.notified, 1)
	require.Equal(t, DocumentPending, repo.stamps[docKey(DocSalesInvoice, 100)].status)
	require.Equal(t, first.ID, *repo.stamps[docKey(DocSalesInvoice, 100)].requestID)

	approved, err := svc.IsDocumentApproved(context.Background(), DocSalesInvoice, 100)
	require.NoError(t, err)
	require.False(t, approved)
}

func TestCreateApprovalRequestRollsBackWhenDocumentMissing(t *testing.T) {
	svc, repo := seededService()
	d, _ := svc.CheckNeedsApproval(context.Background(), 1, DocSalesInvoice, 10000)

	_, _, err := svc.CreateApprovalRequest(context.Background(), CreateRequestInput{
		CompanyID: 1, Decision: d, Module: DocSalesInvoice, DocumentType: DocSalesInvoice, DocumentID: 555, RequestedBy: 3,
	})

	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.requests)
	require.Empty(t, repo.history)
}

func TestIsApprovedStatus(t *testing.T) {
	s := func(v string) *string { return &v }
	require.True(t, IsApprovedStatus(nil))
	require.True(t, IsApprovedStatus(s(DocumentNotRequired)))
	require.True(t, IsApprovedStatus(s(DocumentApproved)))
	require.False(t, IsApprovedStatus(s(DocumentPending)))
	require.False(t, IsApprovedStatus(s(DocumentRejected)))
}

func TestApproveFlow(t *testing.T) {
	svc, repo := seededService()
	req, _ := createFor(t, svc, 10000)

	decided, err := svc.Approve(context.Background(), manager(), req.ID, "looks fine")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
	require.Equal(t, int64(7), *decided.ReviewedBy)

	approved, err := svc.IsDocumentApproved(context.Background(), DocSalesInvoice, 100)
	require.NoError(t, err)
	require.True(t, approved)

	history, err := svc.History(context.Background(), manager(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, ActionSubmitted, history[0].Action)
	require.Equal(t, ActionApproved, history[1].Action)
	require.Equal(t, "finance_manager", history[1].ActorRole)

	_, err = svc.Approve(context.Background(), manager(), req.ID, "again")
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, err.Error(), "approved")
	require.Len(t, repo.history, 2)
}

func TestRejectRequiresNotes(t *testing.T) {
	svc, repo := seededService()
	req, _ := createFor(t, svc, 10000)

	_, err := svc.Reject(context.Background(), manager(), req.ID, "   ")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, StatusPending, repo.requests[req.ID].Status)

	rejected, err := svc.Reject(context.Background(), manager(), req.ID, "wrong customer")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, DocumentRejected, repo.stamps[docKey(DocSalesInvoice, 100)].status)

	_, err = svc.Approve(context.Background(), manager(), req.ID, "")
	require.ErrorContains(t, err, "Cannot approve request with status: rejected")
}

func TestDecisionRequiresMatchingRole(t *testing.T) {
	svc, repo := seededService()
	req, _ := createFor(t, svc, 10000)
	clerk := shared.Identity{UserID: 9, CompanyID: 1, Roles: shared.ParseRoles([]string{"clerk", "admin"})}

	_, err := svc.Approve(context.Background(), clerk, req.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Equal(t, StatusPending, repo.requests[req.ID].Status)
	require.Len(t, repo.history, 1)

	root := shared.Identity{UserID: 1, CompanyID: 99, Roles: shared.ParseRoles([]string{"Super Admin"})}
	decided, err := svc.Approve(context.Background(), root, req.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
}

func TestDecisionHidesOtherCompanies(t *testing.T) {
	svc, _ := seededService()
	req, _ := createFor(t, svc, 10000)
	outsider := shared.Identity{UserID: 8, CompanyID: 2, Roles: shared.ParseRoles([]string{"finance manager"})}

	_, err := svc.Approve(context.Background(), outsider, req.ID, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPendingCountVisibility(t *testing.T) {
	svc, repo := seededService()
	createFor(t, svc, 10000)
	repo.requests[50] = &Request{ID: 50, CompanyID: 2, DocumentType: DocPurchaseOrder, DocumentID: 1, ApprovalRole: "finance_manager", Status: StatusPending}
	repo.requests[51] = &Request{ID: 51, CompanyID: 1, DocumentType: DocPurchaseOrder, DocumentID: 2, ApprovalRole: "director", Status: StatusPending}

	n, err := svc.PendingCount(context.Background(), manager())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	root := shared.Identity{UserID: 1, CompanyID: 1, Roles: shared.ParseRoles([]string{"superadmin"})}
	n, err = svc.PendingCount(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	nobody := shared.Identity{UserID: 2, CompanyID: 1}
	n, err = svc.PendingCount(context.Background(), nobody)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCreateApprovalRequestValidates(t *testing.T) {
	svc, _ := seededService()
	_, _, err := svc.CreateApprovalRequest(context.Background(), CreateRequestInput{CompanyID: 1, DocumentType: "unknown", DocumentID: 1, RequestedBy: 1})
	require.True(t, errors.Is(err, shared.ErrValidation))

	// Orders are confirmed without an approval gate, so no request may target them.
	_, _, err = svc.CreateApprovalRequest(context.Background(), CreateRequestInput{CompanyID: 1, DocumentType: "sales_order", DocumentID: 1, RequestedBy: 1})
	require.True(t, errors.Is(err, shared.ErrValidation))
	var appErr *shared.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "document_type", appErr.Field)
}
