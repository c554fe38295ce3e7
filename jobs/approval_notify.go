package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Recipient is a user who may decide an approval request.
type Recipient struct {
	UserID int64
	Name   string
	Email  string
}

// RecipientSource resolves approvers holding a role in a company.
type RecipientSource interface {
	Approvers(ctx context.Context, companyID int64, role string) ([]Recipient, error)
}

// SQLRecipients reads approvers from users and user_roles.
type SQLRecipients struct {
	q db.DBTX
}

// NewSQLRecipients constructs SQLRecipients.
func NewSQLRecipients(q db.DBTX) *SQLRecipients {
	return &SQLRecipients{q: q}
}

// Approvers implements RecipientSource. Role names are compared after normalisation.
func (s *SQLRecipients) Approvers(ctx context.Context, companyID int64, role string) ([]Recipient, error) {
	rows, err := s.q.Query(ctx, `SELECT DISTINCT u.id, u.name, u.email
FROM users u
JOIN user_roles ur ON ur.user_id = u.id
JOIN roles r ON r.id = ur.role_id
WHERE u.company_id = $1 AND u.is_active AND u.email <> ''
  AND regexp_replace(lower(trim(r.name)), '[\s\-\.]+', '_', 'g') = $2
ORDER BY u.id`, companyID, shared.NormalizeRoleName(role))
	if err != nil {
		return nil, fmt.Errorf("jobs: approvers: %w", err)
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.Name, &r.Email); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApprovalNotifyJob mails every approver of a newly created request.
type ApprovalNotifyJob struct {
	Recipients RecipientSource
	Queue      Enqueuer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewApprovalNotifyJob constructs the job.
func NewApprovalNotifyJob(recipients RecipientSource, queue Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ApprovalNotifyJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalNotifyJob{Recipients: recipients, Queue: queue, Logger: logger, Metrics: metrics}
}

// Handle executes the job.
func (j *ApprovalNotifyJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ApprovalRequestedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.RequestID == 0 || payload.CompanyID == 0 {
		return fmt.Errorf("approval notification without request: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskApprovalRequested)
	return tracker.End(j.run(ctx, payload))
}

func (j *ApprovalNotifyJob) run(ctx context.Context, payload ApprovalRequestedPayload) error {
	logger := j.Logger.With(
		slog.String("correlation_id", payload.CorrelationID.String()),
		slog.Int64("request_id", payload.RequestID),
	)
	recipients, err := j.Recipients.Approvers(ctx, payload.CompanyID, payload.ApprovalRole)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		logger.Warn("approval request has no approvers", slog.String("role", payload.ApprovalRole))
		return nil
	}
	subject := fmt.Sprintf("Approval needed: %s %s", documentLabel(payload.DocumentType), payload.DocumentNumber)
	sent := 0
	for _, rcpt := range recipients {
		if rcpt.UserID == payload.RequestedBy {
			continue
		}
		body := fmt.Sprintf("Hello %s,\n\n%s %s for %.2f is waiting for your decision (request #%d).\n",
			rcpt.Name, documentLabel(payload.DocumentType), payload.DocumentNumber, payload.Amount, payload.RequestID)
		task, err := NewSendEmailTask(SendEmailPayload{To: rcpt.Email, Subject: subject, Body: body})
		if err != nil {
			return err
		}
		if _, err := j.Queue.EnqueueContext(ctx, task); err != nil {
			return fmt.Errorf("jobs: enqueue mail for user %d: %w", rcpt.UserID, err)
		}
		sent++
	}
	j.Metrics.AddProcessed(TaskApprovalRequested, sent)
	logger.Info("approval notifications queued", slog.Int("recipients", sent))
	return nil
}

func documentLabel(documentType string) string {
	words := strings.Fields(strings.ReplaceAll(documentType, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
