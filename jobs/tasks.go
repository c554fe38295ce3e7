package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries outbound mail.
	QueueNotifications = "notifications"

	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskApprovalRequested fans a new approval request out to its approvers.
	TaskApprovalRequested = "approval:requested"
	// TaskApprovalDigest mails every approver the requests still waiting on them.
	TaskApprovalDigest = "approval:digest"
	// TaskSoftLockSweep removes process locks that lost their expiry.
	TaskSoftLockSweep = "locks:sweep"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)), nil
}

// ApprovalRequestedPayload identifies a freshly created approval request.
type ApprovalRequestedPayload struct {
	CorrelationID  uuid.UUID `json:"correlation_id"`
	RequestID      int64     `json:"request_id"`
	CompanyID      int64     `json:"company_id"`
	DocumentType   string    `json:"document_type"`
	DocumentID     int64     `json:"document_id"`
	DocumentNumber string    `json:"document_number"`
	Amount         float64   `json:"amount"`
	ApprovalRole   string    `json:"approval_role"`
	RequestedBy    int64     `json:"requested_by"`
}

// NewApprovalRequestedTask constructs the fan-out task. The request id doubles as the task id,
// so enqueueing the same request twice is rejected by asynq.
func NewApprovalRequestedTask(payload ApprovalRequestedPayload) (*asynq.Task, error) {
	if payload.CorrelationID == uuid.Nil {
		payload.CorrelationID = uuid.New()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalRequested, data,
		asynq.Queue(QueueNotifications),
		asynq.TaskID(approvalTaskID(payload.RequestID)),
		asynq.MaxRetry(5)), nil
}

// ApprovalDigestPayload scopes a digest run.
type ApprovalDigestPayload struct {
	// OlderThan skips requests younger than this; zero includes every pending request.
	OlderThan time.Duration `json:"older_than"`
}

// NewApprovalDigestTask constructs the digest task used by the scheduler.
func NewApprovalDigestTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(ApprovalDigestPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalDigest, data, asynq.Queue(QueueDefault)), nil
}

// NewSoftLockSweepTask constructs the sweep task used by the scheduler.
func NewSoftLockSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSoftLockSweep, nil, asynq.Queue(QueueDefault))
}
