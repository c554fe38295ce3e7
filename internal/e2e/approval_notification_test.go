package e2e

import (
	"context"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/odyssey-erp/backoffice/internal/approval"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/jobs"
)

// inlineQueue hands enqueued tasks straight to registered handlers.
type inlineQueue struct {
	mu       sync.Mutex
	handlers map[string]func(context.Context, *asynq.Task) error
	seen     []string
}

func (q *inlineQueue) EnqueueContext(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	q.seen = append(q.seen, task.Type())
	h := q.handlers[task.Type()]
	q.mu.Unlock()
	if h != nil {
		if err := h(ctx, task); err != nil {
			return nil, err
		}
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type approvers []jobs.Recipient

func (a approvers) Approvers(context.Context, int64, string) ([]jobs.Recipient, error) {
	return a, nil
}

type inbox struct {
	mu   sync.Mutex
	mail []jobs.SendEmailPayload
}

func (b *inbox) Send(_ context.Context, msg jobs.SendEmailPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mail = append(b.mail, msg)
	return nil
}

func TestApprovalRequestReachesApproverInbox(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	queue := &inlineQueue{handlers: map[string]func(context.Context, *asynq.Task) error{}}
	box := &inbox{}

	mailJob := jobs.NewSendEmailJob(box, nil, metrics)
	notifyJob := jobs.NewApprovalNotifyJob(approvers{
		{UserID: 2, Name: "Requester", Email: "sales@example.com"},
		{UserID: 7, Name: "Rina", Email: "rina@example.com"},
	}, queue, nil, metrics)
	queue.handlers[jobs.TaskTypeSendEmail] = mailJob.Handle
	queue.handlers[jobs.TaskApprovalRequested] = notifyJob.Handle

	client := jobs.NewClientWithEnqueuer(queue)
	err := client.ApprovalRequested(context.Background(), approval.Request{
		ID: 31, CompanyID: 1, Module: "sales", DocumentType: approval.DocSalesInvoice, DocumentID: 12,
		DocumentNumber: "INV-2026-00012", Amount: 25000, ApprovalRole: "finance_manager", RequestedBy: 2,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(box.mail) != 1 || box.mail[0].To != "rina@example.com" {
		t.Fatalf("expected a single mail to the approver, got %+v", box.mail)
	}
	if want := []string{jobs.TaskApprovalRequested, jobs.TaskTypeSendEmail}; len(queue.seen) != 2 || queue.seen[0] != want[0] || queue.seen[1] != want[1] {
		t.Fatalf("unexpected task order %v", queue.seen)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, job := range []string{jobs.TaskApprovalRequested, jobs.TaskTypeSendEmail} {
		if !assertCounter(t, families, "odyssey_jobs_total", map[string]string{"job": job, "status": "success"}, 1) {
			t.Fatalf("expected odyssey_jobs_total success for %s", job)
		}
	}
	if !metricExists(families, "odyssey_job_duration_seconds") {
		t.Fatalf("expected odyssey_job_duration_seconds to be recorded")
	}
}

func assertCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() == nil {
					return false
				}
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(expected) == 0 {
		return true
	}
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
