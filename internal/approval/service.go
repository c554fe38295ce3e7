// Package approval gates financially sensitive transitions behind amount-tiered workflows.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ErrDuplicatePending is returned by InsertRequest when the document already has a pending request.
var ErrDuplicatePending = errors.New("approval: document already has a pending request")

// Repository abstracts persistence for the approval gate.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListActiveWorkflows(ctx context.Context, companyID int64, module string) ([]Workflow, error)
	FindPendingRequest(ctx context.Context, companyID int64, documentType string, documentID int64) (Request, bool, error)
	GetDocumentApprovalStatus(ctx context.Context, documentType string, documentID int64) (*string, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListPending(ctx context.Context, filter PendingFilter) ([]Request, error)
	CountPending(ctx context.Context, filter PendingFilter) (int, error)
	ListHistory(ctx context.Context, requestID int64) ([]HistoryEntry, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertRequest(ctx context.Context, req Request) (int64, error)
	FindPendingRequest(ctx context.Context, companyID int64, documentType string, documentID int64) (Request, bool, error)
	GetRequestForUpdate(ctx context.Context, id int64) (Request, error)
	UpdateDecision(ctx context.Context, id int64, status Status, reviewer int64, notes string, at time.Time) error
	InsertHistory(ctx context.Context, entry HistoryEntry) error
	StampDocument(ctx context.Context, documentType string, documentID, companyID int64, approvalStatus string, requestID *int64) error
}

// Notifier is told about new requests after commit.
type Notifier interface {
	ApprovalRequested(ctx context.Context, req Request) error
}

// Metrics counts approval outcomes.
type Metrics interface {
	ApprovalEvent(module, outcome string)
}

// Service implements the approval gate.
type Service struct {
	repo     Repository
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. Notifier and metrics are optional.
func NewService(repo Repository, notifier Notifier, metrics Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, metrics: metrics, logger: logger, now: time.Now}
}

// CheckNeedsApproval selects the active workflow whose band contains amount.
func (s *Service) CheckNeedsApproval(ctx context.Context, companyID int64, module string, amount float64) (Decision, error) {
	workflows, err := s.repo.ListActiveWorkflows(ctx, companyID, module)
	if err != nil {
		return Decision{}, err
	}
	wf, ok := SelectWorkflow(workflows, amount)
	if !ok {
		return Decision{NeedsApproval: false}, nil
	}
	id := wf.ID
	return Decision{NeedsApproval: true, WorkflowID: &id, WorkflowName: wf.Name, ApprovalRole: wf.ApprovalRole}, nil
}

// SelectWorkflow picks the workflow with the highest min_amount <= amount where amount is
// below max_amount (or max_amount is open).
func SelectWorkflow(workflows []Workflow, amount float64) (Workflow, bool) {
	var best Workflow
	found := false
	for _, wf := range workflows {
		if !wf.IsActive || wf.MinAmount > amount {
			continue
		}
		if wf.MaxAmount != nil && amount >= *wf.MaxAmount {
			continue
		}
		if !found || wf.MinAmount > best.MinAmount {
			best = wf
			found = true
		}
	}
	return best, found
}

// FindPendingRequest returns the pending request of a document, if any.
func (s *Service) FindPendingRequest(ctx context.Context, companyID int64, documentType string, documentID int64) (Request, bool, error) {
	return s.repo.FindPendingRequest(ctx, companyID, documentType, documentID)
}

// CreateApprovalRequest inserts a pending request and stamps the document as pending in one
// transaction. When a pending request already exists for the document it is returned instead;
// created reports whether a new row was written.
func (s *Service) CreateApprovalRequest(ctx context.Context, in CreateRequestInput) (Request, bool, error) {
	if in.CompanyID == 0 || in.DocumentID == 0 || in.RequestedBy == 0 {
		return Request{}, false, shared.Validation("document_id", "company, document and requester are required")
	}
	if _, ok := documentTables[in.DocumentType]; !ok {
		return Request{}, false, shared.Validation("document_type", "document type %q is not approval-gated", in.DocumentType)
	}
	if !in.Decision.NeedsApproval || in.Decision.WorkflowID == nil {
		return Request{}, false, shared.Validation("workflow_id", "no approval workflow applies to this document")
	}
	now := s.now().UTC()
	req := Request{
		CompanyID:      in.CompanyID,
		WorkflowID:     *in.Decision.WorkflowID,
		Module:         in.Module,
		DocumentType:   in.DocumentType,
		DocumentID:     in.DocumentID,
		DocumentNumber: in.DocumentNumber,
		Amount:         in.Amount,
		ApprovalRole:   in.Decision.ApprovalRole,
		Status:         StatusPending,
		RequestedBy:    in.RequestedBy,
		RequestedAt:    now,
	}
	created := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, found, err := tx.FindPendingRequest(ctx, in.CompanyID, in.DocumentType, in.DocumentID)
		if err != nil {
			return err
		}
		if found {
			req = existing
			return nil
		}
		id, err := tx.InsertRequest(ctx, req)
		if errors.Is(err, ErrDuplicatePending) {
			existing, found, ferr := tx.FindPendingRequest(ctx, in.CompanyID, in.DocumentType, in.DocumentID)
			if ferr != nil {
				return ferr
			}
			if !found {
				return err
			}
			req = existing
			return nil
		}
		if err != nil {
			return err
		}
		req.ID = id
		if err := tx.StampDocument(ctx, in.DocumentType, in.DocumentID, in.CompanyID, DocumentPending, &id); err != nil {
			return err
		}
		created = true
		return tx.InsertHistory(ctx, HistoryEntry{
			RequestID: id,
			Action:    ActionSubmitted,
			ActorID:   in.RequestedBy,
			At:        now,
		})
	})
	if err != nil {
		return Request{}, false, err
	}
	if created {
		s.logger.Info("approval requested",
			slog.Int64("request_id", req.ID),
			slog.String("document_type", req.DocumentType),
			slog.Int64("document_id", req.DocumentID),
			slog.Float64("amount", req.Amount),
			slog.String("approval_role", req.ApprovalRole))
		s.observe(req.Module, "requested")
		if s.notifier != nil {
			if err := s.notifier.ApprovalRequested(ctx, req); err != nil {
				s.logger.Warn("approval notification failed", slog.Int64("request_id", req.ID), slog.Any("error", err))
			}
		}
	}
	return req, created, nil
}

// IsDocumentApproved reports whether a document may proceed. A null approval_status is
// treated as approved so documents that predate their workflow are not blocked.
func (s *Service) IsDocumentApproved(ctx context.Context, documentType string, documentID int64) (bool, error) {
	if _, ok := documentTables[documentType]; !ok {
		return false, shared.Validation("document_type", "document type %q is not approval-gated", documentType)
	}
	status, err := s.repo.GetDocumentApprovalStatus(ctx, documentType, documentID)
	if err != nil {
		return false, err
	}
	return IsApprovedStatus(status), nil
}

// IsApprovedStatus applies the approval_status rule to a raw column value.
func IsApprovedStatus(status *string) bool {
	if status == nil {
		return true
	}
	switch *status {
	case DocumentPending, DocumentRejected:
		return false
	default:
		return true
	}
}

// Approve approves a pending request.
func (s *Service) Approve(ctx context.Context, reviewer shared.Identity, requestID int64, notes string) (Request, error) {
	return s.decide(ctx, reviewer, requestID, StatusApproved, notes)
}

// Reject rejects a pending request; notes are mandatory.
func (s *Service) Reject(ctx context.Context, reviewer shared.Identity, requestID int64, notes string) (Request, error) {
	if strings.TrimSpace(notes) == "" {
		return Request{}, shared.Validation("notes", "rejection notes are required")
	}
	return s.decide(ctx, reviewer, requestID, StatusRejected, notes)
}

func (s *Service) decide(ctx context.Context, reviewer shared.Identity, requestID int64, outcome Status, notes string) (Request, error) {
	verb := "approve"
	action := ActionApproved
	docStatus := DocumentApproved
	if outcome == StatusRejected {
		verb = "reject"
		action = ActionRejected
		docStatus = DocumentRejected
	}
	now := s.now().UTC()
	notes = strings.TrimSpace(notes)
	var req Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.CompanyID != reviewer.CompanyID && !reviewer.IsSuperAdmin() {
			return shared.NotFound("approval request", requestID)
		}
		if req.Status != StatusPending {
			return shared.InvalidStatus("approval request", requestID, "Cannot %s request with status: %s", verb, req.Status)
		}
		actorRole, ok := reviewerRole(reviewer, req.ApprovalRole)
		if !ok {
			return shared.Forbidden("", "role %q is required to %s this request", req.ApprovalRole, verb)
		}
		if err := tx.UpdateDecision(ctx, req.ID, outcome, reviewer.UserID, notes, now); err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{
			RequestID: req.ID,
			Action:    action,
			ActorID:   reviewer.UserID,
			ActorRole: actorRole,
			Notes:     notes,
			At:        now,
		}); err != nil {
			return err
		}
		if err := tx.StampDocument(ctx, req.DocumentType, req.DocumentID, req.CompanyID, docStatus, &req.ID); err != nil {
			return err
		}
		reviewerID := reviewer.UserID
		req.Status = outcome
		req.ReviewedBy = &reviewerID
		req.ReviewedAt = &now
		req.Notes = notes
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.logger.Info("approval decided",
		slog.Int64("request_id", req.ID),
		slog.String("status", string(req.Status)),
		slog.Int64("reviewer_id", reviewer.UserID))
	s.observe(req.Module, string(outcome))
	return req, nil
}

func reviewerRole(reviewer shared.Identity, required string) (string, bool) {
	if reviewer.HasRole(required) {
		return shared.NormalizeRoleName(required), true
	}
	for _, r := range reviewer.Roles {
		if r.Kind == shared.RoleSuperAdmin {
			return r.Name, true
		}
	}
	return "", false
}

// ListPending lists pending requests visible to the identity.
func (s *Service) ListPending(ctx context.Context, who shared.Identity, limit, offset int) ([]Request, error) {
	filter := visibility(who)
	filter.Limit, filter.Offset = limit, offset
	return s.repo.ListPending(ctx, filter)
}

// PendingCount counts pending requests visible to the identity. Super-admins see every company;
// other reviewers see their company restricted to requests their roles can decide.
func (s *Service) PendingCount(ctx context.Context, who shared.Identity) (int, error) {
	return s.repo.CountPending(ctx, visibility(who))
}

func visibility(who shared.Identity) PendingFilter {
	if who.IsSuperAdmin() {
		return PendingFilter{}
	}
	companyID := who.CompanyID
	roles := who.RoleNames()
	if roles == nil {
		roles = []string{}
	}
	return PendingFilter{CompanyID: &companyID, Roles: roles}
}

// GetRequest returns one request scoped to the identity's company.
func (s *Service) GetRequest(ctx context.Context, who shared.Identity, id int64) (Request, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.CompanyID != who.CompanyID && !who.IsSuperAdmin() {
		return Request{}, shared.NotFound("approval request", id)
	}
	return req, nil
}

// History returns the audit trail of a request.
func (s *Service) History(ctx context.Context, who shared.Identity, id int64) ([]HistoryEntry, error) {
	if _, err := s.GetRequest(ctx, who, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approval: history: %w", err)
	}
	return entries, nil
}

func (s *Service) observe(module, outcome string) {
	if s.metrics != nil {
		s.metrics.ApprovalEvent(module, outcome)
	}
}
