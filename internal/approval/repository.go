package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// SQLRepository persists approval workflows and requests in PostgreSQL.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a SQLRepository.
func NewRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction.
func (r *SQLRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const requestColumns = `id, company_id, workflow_id, module, document_type, document_id, COALESCE(document_number, ''),
amount, approval_role, status, requested_by, requested_at, reviewed_by, reviewed_at, COALESCE(notes, '')`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var status string
	err := row.Scan(&req.ID, &req.CompanyID, &req.WorkflowID, &req.Module, &req.DocumentType, &req.DocumentID,
		&req.DocumentNumber, &req.Amount, &req.ApprovalRole, &status, &req.RequestedBy, &req.RequestedAt,
		&req.ReviewedBy, &req.ReviewedAt, &req.Notes)
	req.Status = Status(status)
	return req, err
}

// ListActiveWorkflows implements Repository.
func (r *SQLRepository) ListActiveWorkflows(ctx context.Context, companyID int64, module string) ([]Workflow, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, module, name, min_amount, max_amount, approval_role, is_active
FROM approval_workflows
WHERE company_id = $1 AND module = $2 AND is_active AND deleted_at IS NULL
ORDER BY min_amount DESC`, companyID, module)
	if err != nil {
		return nil, fmt.Errorf("approval: list workflows: %w", err)
	}
	defer rows.Close()
	var out []Workflow
	for rows.Next() {
		var wf Workflow
		if err := rows.Scan(&wf.ID, &wf.CompanyID, &wf.Module, &wf.Name, &wf.MinAmount, &wf.MaxAmount, &wf.ApprovalRole, &wf.IsActive); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// FindPendingRequest implements Repository.
func (r *SQLRepository) FindPendingRequest(ctx context.Context, companyID int64, documentType string, documentID int64) (Request, bool, error) {
	return findPending(ctx, r.pool, companyID, documentType, documentID)
}

func findPending(ctx context.Context, q db.DBTX, companyID int64, documentType string, documentID int64) (Request, bool, error) {
	req, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+`
FROM approval_requests
WHERE company_id = $1 AND document_type = $2 AND document_id = $3 AND status = 'pending'`, companyID, documentType, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, fmt.Errorf("approval: find pending: %w", err)
	}
	return req, true, nil
}

// GetDocumentApprovalStatus implements Repository.
func (r *SQLRepository) GetDocumentApprovalStatus(ctx context.Context, documentType string, documentID int64) (*string, error) {
	table, ok := documentTables[documentType]
	if !ok {
		return nil, shared.Validation("document_type", "document type %q is not approval-gated", documentType)
	}
	var status *string
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT approval_status FROM %s WHERE id = $1`, table.table), documentID).Scan(&status)
	if err != nil {
		return nil, db.TranslateError(err, documentType, documentID)
	}
	return status, nil
}

// GetRequest implements Repository.
func (r *SQLRepository) GetRequest(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		return Request{}, db.TranslateError(err, "approval request", id)
	}
	return req, nil
}

// pendingWhere renders the visibility filter. Roles are compared after the same
// normalisation shared.NormalizeRoleName applies.
func pendingWhere(filter PendingFilter) (string, []any) {
	where := `status = 'pending'`
	var args []any
	if filter.CompanyID != nil {
		args = append(args, *filter.CompanyID)
		where += fmt.Sprintf(` AND company_id = $%d`, len(args))
	}
	if filter.Roles != nil {
		args = append(args, filter.Roles)
		where += fmt.Sprintf(` AND regexp_replace(lower(trim(approval_role)), '[\s\-\.]+', '_', 'g') = ANY($%d)`, len(args))
	}
	return where, args
}

// ListPending implements Repository.
func (r *SQLRepository) ListPending(ctx context.Context, filter PendingFilter) ([]Request, error) {
	where, args := pendingWhere(filter)
	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM approval_requests WHERE %s ORDER BY requested_at ASC LIMIT $%d OFFSET $%d`,
		requestColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CountPending implements Repository.
func (r *SQLRepository) CountPending(ctx context.Context, filter PendingFilter) (int, error) {
	where, args := pendingWhere(filter)
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM approval_requests WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("approval: count pending: %w", err)
	}
	return n, nil
}

// ListHistory implements Repository.
func (r *SQLRepository) ListHistory(ctx context.Context, requestID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, action, actor_id, COALESCE(actor_role, ''), COALESCE(notes, ''), created_at
FROM approval_history WHERE request_id = $1 ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var action string
		if err := rows.Scan(&e.ID, &e.RequestID, &action, &e.ActorID, &e.ActorRole, &e.Notes, &e.At); err != nil {
			return nil, err
		}
		e.Action = HistoryAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO approval_requests
(company_id, workflow_id, module, document_type, document_id, document_number, amount, approval_role, status, requested_by, requested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10)
ON CONFLICT (document_type, document_id) WHERE status = 'pending' DO NOTHING
RETURNING id`,
		req.CompanyID, req.WorkflowID, req.Module, req.DocumentType, req.DocumentID, req.DocumentNumber,
		req.Amount, req.ApprovalRole, req.RequestedBy, req.RequestedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDuplicatePending
	}
	if err != nil {
		return 0, db.TranslateError(err, "approval request", nil)
	}
	return id, nil
}

func (t *txRepo) FindPendingRequest(ctx context.Context, companyID int64, documentType string, documentID int64) (Request, bool, error) {
	return findPending(ctx, t.tx, companyID, documentType, documentID)
}

func (t *txRepo) GetRequestForUpdate(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Request{}, db.TranslateError(err, "approval request", id)
	}
	return req, nil
}

func (t *txRepo) UpdateDecision(ctx context.Context, id int64, status Status, reviewer int64, notes string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE approval_requests
SET status = $2, reviewed_by = $3, reviewed_at = $4, notes = NULLIF($5, ''), updated_at = NOW()
WHERE id = $1 AND status = 'pending'`, id, string(status), reviewer, at, notes)
	return err
}

func (t *txRepo) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO approval_history (request_id, action, actor_id, actor_role, notes, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
		entry.RequestID, string(entry.Action), entry.ActorID, entry.ActorRole, entry.Notes, entry.At)
	return err
}

// StampDocument writes approval_status (and, for tables with their own workflow status, the
// status column) on the gated document. Table names come from a fixed registry.
func (t *txRepo) StampDocument(ctx context.Context, documentType string, documentID, companyID int64, approvalStatus string, requestID *int64) error {
	table, ok := documentTables[documentType]
	if !ok {
		return shared.Validation("document_type", "document type %q is not approval-gated", documentType)
	}
	query := fmt.Sprintf(`UPDATE %s SET approval_status = $1, approval_request_id = $2, updated_at = NOW()
WHERE id = $3 AND company_id = $4`, table.table)
	args := []any{approvalStatus, requestID, documentID, companyID}
	if table.statusColumn != "" && approvalStatus != DocumentPending {
		status := table.approvedStatus
		if approvalStatus == DocumentRejected {
			status = table.rejectedStatus
		}
		query = fmt.Sprintf(`UPDATE %s SET approval_status = $1, approval_request_id = $2, %s = $5, updated_at = NOW()
WHERE id = $3 AND company_id = $4`, table.table, table.statusColumn)
		args = append(args, status)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return db.TranslateError(err, documentType, documentID)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(documentType, documentID)
	}
	return nil
}
