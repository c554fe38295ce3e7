package approval

import "time"

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Document approval_status values.
const (
	DocumentNotRequired = "not_required"
	DocumentPending     = "pending"
	DocumentApproved    = "approved"
	DocumentRejected    = "rejected"
)

// Known document types gated by approval workflows.
const (
	DocSalesInvoice    = "sales_invoice"
	DocPurchaseOrder   = "purchase_order"
	DocPurchaseInvoice = "purchase_invoice"
	DocVendorPayment   = "vendor_payment"
)

// HistoryAction enumerates approval history entries.
type HistoryAction string

const (
	ActionSubmitted HistoryAction = "submitted"
	ActionApproved  HistoryAction = "approved"
	ActionRejected  HistoryAction = "rejected"
)

// documentTable describes where a gated document lives. Tables with a statusColumn also
// get their workflow status moved when a decision is made.
type documentTable struct {
	table          string
	statusColumn   string
	approvedStatus string
	rejectedStatus string
}

var documentTables = map[string]documentTable{
	DocSalesInvoice:    {table: "sales_invoices"},
	DocPurchaseOrder:   {table: "purchase_orders", statusColumn: "status", approvedStatus: "APPROVED", rejectedStatus: "REJECTED"},
	DocPurchaseInvoice: {table: "purchase_invoices", statusColumn: "status", approvedStatus: "APPROVED", rejectedStatus: "REJECTED"},
	DocVendorPayment:   {table: "vendor_payments", statusColumn: "status", approvedStatus: "APPROVED", rejectedStatus: "REJECTED"},
}

// Workflow is an amount band rule for a company and module.
type Workflow struct {
	ID           int64
	CompanyID    int64
	Module       string
	Name         string
	MinAmount    float64
	MaxAmount    *float64
	ApprovalRole string
	IsActive     bool
}

// Decision is the outcome of checkNeedsApproval.
type Decision struct {
	NeedsApproval bool   `json:"needs_approval"`
	WorkflowID    *int64 `json:"workflow_id,omitempty"`
	WorkflowName  string `json:"workflow_name,omitempty"`
	ApprovalRole  string `json:"approval_role,omitempty"`
}

// Request is one approval decision for one document.
type Request struct {
	ID             int64      `json:"id"`
	CompanyID      int64      `json:"company_id"`
	WorkflowID     int64      `json:"workflow_id"`
	Module         string     `json:"module"`
	DocumentType   string     `json:"document_type"`
	DocumentID     int64      `json:"document_id"`
	DocumentNumber string     `json:"document_number"`
	Amount         float64    `json:"amount"`
	ApprovalRole   string     `json:"approval_role"`
	Status         Status     `json:"status"`
	RequestedBy    int64      `json:"requested_by"`
	RequestedAt    time.Time  `json:"requested_at"`
	ReviewedBy     *int64     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// HistoryEntry is an audit row of approval_history.
type HistoryEntry struct {
	ID        int64         `json:"id"`
	RequestID int64         `json:"request_id"`
	Action    HistoryAction `json:"action"`
	ActorID   int64         `json:"actor_id"`
	ActorRole string        `json:"actor_role"`
	Notes     string        `json:"notes,omitempty"`
	At        time.Time     `json:"at"`
}

// CreateRequestInput carries what a document owner knows when it hits the gate.
type CreateRequestInput struct {
	CompanyID      int64
	Decision       Decision
	Module         string
	DocumentType   string
	DocumentID     int64
	DocumentNumber string
	Amount         float64
	RequestedBy    int64
}

// PendingFilter scopes pending lookups. Nil CompanyID means every company.
type PendingFilter struct {
	CompanyID *int64
	Roles     []string
	Limit     int
	Offset    int
}

// DecisionRequest is the body of approve/reject endpoints.
type DecisionRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}
