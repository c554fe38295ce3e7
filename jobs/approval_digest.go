package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/approval"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// PendingSource lists pending approval requests across companies.
type PendingSource interface {
	ListPending(ctx context.Context, filter approval.PendingFilter) ([]approval.Request, error)
}

const digestPageSize = 500

// ApprovalDigestJob mails each approver a summary of requests still waiting on their role.
type ApprovalDigestJob struct {
	Pending    PendingSource
	Recipients RecipientSource
	Queue      Enqueuer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	now        func() time.Time
}

// NewApprovalDigestJob constructs the job.
func NewApprovalDigestJob(pending PendingSource, recipients RecipientSource, queue Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ApprovalDigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalDigestJob{Pending: pending, Recipients: recipients, Queue: queue, Logger: logger, Metrics: metrics, now: time.Now}
}

type digestKey struct {
	companyID int64
	role      string
}

// Handle executes the job.
func (j *ApprovalDigestJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ApprovalDigestPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskApprovalDigest)
	return tracker.End(j.run(ctx, payload))
}

func (j *ApprovalDigestJob) run(ctx context.Context, payload ApprovalDigestPayload) error {
	groups, err := j.collect(ctx, payload.OlderThan)
	if err != nil {
		return err
	}
	keys := make([]digestKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].companyID != keys[b].companyID {
			return keys[a].companyID < keys[b].companyID
		}
		return keys[a].role < keys[b].role
	})

	mails := 0
	for _, key := range keys {
		requests := groups[key]
		recipients, err := j.Recipients.Approvers(ctx, key.companyID, key.role)
		if err != nil {
			return err
		}
		body := renderDigest(requests)
		subject := fmt.Sprintf("%d approval request(s) waiting", len(requests))
		for _, rcpt := range recipients {
			task, err := NewSendEmailTask(SendEmailPayload{To: rcpt.Email, Subject: subject, Body: body})
			if err != nil {
				return err
			}
			if _, err := j.Queue.EnqueueContext(ctx, task); err != nil {
				return fmt.Errorf("jobs: enqueue digest for user %d: %w", rcpt.UserID, err)
			}
			mails++
		}
	}
	j.Metrics.AddProcessed(TaskApprovalDigest, mails)
	j.Logger.Info("approval digest queued", slog.Int("groups", len(keys)), slog.Int("mails", mails))
	return nil
}

func (j *ApprovalDigestJob) collect(ctx context.Context, olderThan time.Duration) (map[digestKey][]approval.Request, error) {
	cutoff := j.now().Add(-olderThan)
	groups := make(map[digestKey][]approval.Request)
	for offset := 0; ; offset += digestPageSize {
		page, err := j.Pending.ListPending(ctx, approval.PendingFilter{Limit: digestPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, req := range page {
			if olderThan > 0 && req.RequestedAt.After(cutoff) {
				continue
			}
			key := digestKey{companyID: req.CompanyID, role: shared.NormalizeRoleName(req.ApprovalRole)}
			groups[key] = append(groups[key], req)
		}
		if len(page) < digestPageSize {
			return groups, nil
		}
	}
}

func renderDigest(requests []approval.Request) string {
	var b strings.Builder
	b.WriteString("The following requests are waiting for your decision:\n\n")
	for _, req := range requests {
		fmt.Fprintf(&b, "- #%d %s %s %.2f (since %s)\n", req.ID, documentLabel(req.DocumentType),
			req.DocumentNumber, req.Amount, req.RequestedAt.UTC().Format("2006-01-02"))
	}
	return b.String()
}
