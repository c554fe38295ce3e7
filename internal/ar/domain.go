// Package ar issues sales invoices, posts them to the general ledger and records the
// customer payments against them.
package ar

import (
	"time"

	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// InvoiceStatus enumerates sales invoice statuses.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusPosted        InvoiceStatus = "POSTED"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
)

// Payable reports whether payments may be recorded in this status.
func (s InvoiceStatus) Payable() bool {
	return s == InvoiceStatusPosted || s == InvoiceStatusPartiallyPaid
}

// DefaultPaymentTerm is applied when an invoice is generated without a due date.
const DefaultPaymentTerm = 30 * 24 * time.Hour

// ============================================================================
// INVOICE
// ============================================================================

// Invoice is a sales invoice. Invoices are never deleted; a VOID invoice keeps its rows and
// its reversing journal entry.
type Invoice struct {
	ID             int64         `json:"id"`
	DocNumber      string        `json:"doc_number"`
	CompanyID      int64         `json:"company_id"`
	CustomerID     int64         `json:"customer_id"`
	SalesOrderID   *int64        `json:"sales_order_id,omitempty"`
	DeliveryNoteID *int64        `json:"delivery_note_id,omitempty"`
	InvoiceDate    time.Time     `json:"invoice_date"`
	DueDate        time.Time     `json:"due_date"`
	Status         InvoiceStatus `json:"status"`
	Currency       string        `json:"currency"`
	ExchangeRate   float64       `json:"exchange_rate"`
	sales.HeaderAdjustments
	sales.Totals
	PaidAmount         float64    `json:"paid_amount"`
	ApprovalStatus     *string    `json:"approval_status,omitempty"`
	ApprovalRequestID  *int64     `json:"approval_request_id,omitempty"`
	JournalEntryID     *int64     `json:"journal_entry_id,omitempty"`
	VoidJournalEntryID *int64     `json:"void_journal_entry_id,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	CreatedBy          int64      `json:"created_by"`
	PostedBy           *int64     `json:"posted_by,omitempty"`
	PostedAt           *time.Time `json:"posted_at,omitempty"`
	VoidedBy           *int64     `json:"voided_by,omitempty"`
	VoidedAt           *time.Time `json:"voided_at,omitempty"`
	VoidReason         *string    `json:"void_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Lines              []Line     `json:"items"`
}

// Balance is the amount still owed.
func (i Invoice) Balance() float64 {
	return shared.SubMoney(i.TotalAmount, i.PaidAmount)
}

// Line is an invoice line. Lines generated from a delivery note keep their order and note
// line references.
type Line struct {
	sales.Line
	InvoiceID          int64  `json:"sales_invoice_id"`
	SalesOrderItemID   *int64 `json:"sales_order_item_id,omitempty"`
	DeliveryNoteItemID *int64 `json:"delivery_note_item_id,omitempty"`
}

// Payment is a customer receipt applied to one invoice.
type Payment struct {
	ID             int64     `json:"id"`
	DocNumber      string    `json:"doc_number"`
	CompanyID      int64     `json:"company_id"`
	InvoiceID      int64     `json:"sales_invoice_id"`
	PaymentDate    time.Time `json:"payment_date"`
	Amount         float64   `json:"amount"`
	Method         string    `json:"method"`
	Reference      *string   `json:"reference,omitempty"`
	JournalEntryID *int64    `json:"journal_entry_id,omitempty"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgingBucket summarises open balances by days past due.
type AgingBucket struct {
	Current   float64 `json:"current"`
	Bucket30  float64 `json:"bucket_30"`
	Bucket60  float64 `json:"bucket_60"`
	Bucket90  float64 `json:"bucket_90"`
	Bucket120 float64 `json:"bucket_120"`
}

// ============================================================================
// REQUESTS
// ============================================================================

// CreateInvoiceRequest creates a standalone DRAFT invoice.
type CreateInvoiceRequest struct {
	CustomerID   int64     `json:"customer_id" validate:"required,gt=0"`
	SalesOrderID *int64    `json:"sales_order_id,omitempty" validate:"omitempty,gt=0"`
	InvoiceDate  time.Time `json:"invoice_date" validate:"required"`
	DueDate      time.Time `json:"due_date" validate:"required"`
	Currency     string    `json:"currency" validate:"required,len=3"`
	ExchangeRate float64   `json:"exchange_rate" validate:"gte=0"`
	sales.HeaderAdjustments
	Notes *string             `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Lines []sales.LineRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateFromDeliveryNoteRequest generates an invoice from a shipped delivery note.
type CreateFromDeliveryNoteRequest struct {
	DeliveryNoteID int64      `json:"delivery_note_id" validate:"required,gt=0"`
	InvoiceDate    *time.Time `json:"invoice_date,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Notes          *string    `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// RecordPaymentRequest records a customer receipt.
type RecordPaymentRequest struct {
	Amount      float64   `json:"amount" validate:"required,gt=0"`
	PaymentDate time.Time `json:"payment_date" validate:"required"`
	Method      string    `json:"method" validate:"required,oneof=CASH BANK_TRANSFER CHEQUE CARD"`
	Reference   *string   `json:"reference,omitempty" validate:"omitempty,max=100"`
}

// VoidRequest carries the void reason.
type VoidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ListRequest filters invoice listings.
type ListRequest struct {
	CompanyID  int64
	CustomerID *int64
	Status     *InvoiceStatus
	DateFrom   *time.Time
	DateTo     *time.Time
	Search     string
	Limit      int
	Offset     int
}
