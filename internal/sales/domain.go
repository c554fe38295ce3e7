// Package sales runs the quotation and sales order state machines.
package sales

import (
	"context"
	"time"

	"github.com/odyssey-erp/backoffice/internal/pricing"
)

// ============================================================================
// CUSTOMER
// ============================================================================

// Customer is the slice of the customer master the pipeline needs.
type Customer struct {
	ID          int64    `json:"id"`
	CompanyID   int64    `json:"company_id"`
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	CreditLimit *float64 `json:"credit_limit,omitempty"`
	IsActive    bool     `json:"is_active"`
}

// ============================================================================
// LINES
// ============================================================================

// PriceSourceManual marks a unit price typed in by the user.
const PriceSourceManual = "manual"

// Line is a priced document line shared by quotations and orders.
type Line struct {
	ID              int64    `json:"id"`
	ItemID          int64    `json:"item_id"`
	UOMID           *int64   `json:"uom_id,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Quantity        float64  `json:"quantity"`
	UnitPrice       float64  `json:"unit_price"`
	PriceSource     string   `json:"price_source"`
	PriceListID     *int64   `json:"price_list_id,omitempty"`
	DiscountPercent *float64 `json:"discount_percent,omitempty"`
	DiscountAmount  float64  `json:"discount_amount"`
	TaxPercent      float64  `json:"tax_percent"`
	TaxAmount       float64  `json:"tax_amount"`
	LineTotal       float64  `json:"line_total"`
	LineOrder       int      `json:"line_order"`
}

// OrderLine adds delivery and invoicing progress to a line.
type OrderLine struct {
	Line
	OrderID      int64   `json:"sales_order_id"`
	DeliveredQty float64 `json:"delivered_qty"`
	InvoicedQty  float64 `json:"invoiced_qty"`
}

// Deliverable is the ordered quantity not yet delivered, never negative.
func (l OrderLine) Deliverable() float64 {
	if rest := l.Quantity - l.DeliveredQty; rest > 0 {
		return rest
	}
	return 0
}

// LineRequest is one entry of the "items" array on create and update bodies.
type LineRequest struct {
	ItemID          int64    `json:"item_id" validate:"required,gt=0"`
	UOMID           *int64   `json:"uom_id,omitempty" validate:"omitempty,gt=0"`
	Description     *string  `json:"description,omitempty" validate:"omitempty,max=500"`
	Quantity        float64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice       *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	DiscountPercent *float64 `json:"discount_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	DiscountAmount  *float64 `json:"discount_amount,omitempty" validate:"omitempty,gte=0"`
	TaxPercent      float64  `json:"tax_percent" validate:"gte=0,lte=100"`
}

// HeaderAdjustments are the header discount, header tax and freight of a document.
type HeaderAdjustments struct {
	HeaderDiscountPercent *float64 `json:"header_discount_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	HeaderDiscountAmount  *float64 `json:"header_discount_amount,omitempty" validate:"omitempty,gte=0"`
	HeaderTaxAmount       float64  `json:"header_tax_amount" validate:"gte=0"`
	Freight               float64  `json:"freight" validate:"gte=0"`
}

// Totals are the computed money columns of a document header.
type Totals struct {
	Subtotal       float64 `json:"subtotal"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	FreightAmount  float64 `json:"freight_amount"`
	TotalAmount    float64 `json:"total_amount"`
}

// ============================================================================
// QUOTATION
// ============================================================================

type QuotationStatus string

const (
	QuotationStatusDraft     QuotationStatus = "DRAFT"
	QuotationStatusSent      QuotationStatus = "SENT"
	QuotationStatusAccepted  QuotationStatus = "ACCEPTED"
	QuotationStatusRejected  QuotationStatus = "REJECTED"
	QuotationStatusConverted QuotationStatus = "CONVERTED"
)

type Quotation struct {
	ID           int64           `json:"id"`
	DocNumber    string          `json:"doc_number"`
	CompanyID    int64           `json:"company_id"`
	CustomerID   *int64          `json:"customer_id,omitempty"`
	ProspectName *string         `json:"prospect_name,omitempty"`
	QuoteDate    time.Time       `json:"quote_date"`
	ValidUntil   time.Time       `json:"valid_until"`
	Status       QuotationStatus `json:"status"`
	Currency     string          `json:"currency"`
	ExchangeRate float64         `json:"exchange_rate"`
	PriceListID  *int64          `json:"price_list_id,omitempty"`
	HeaderAdjustments
	Totals
	Notes              *string    `json:"notes,omitempty"`
	CreatedBy          int64      `json:"created_by"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	AcceptedBy         *int64     `json:"accepted_by,omitempty"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
	RejectedBy         *int64     `json:"rejected_by,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	RejectionReason    *string    `json:"rejection_reason,omitempty"`
	ConvertedToOrderID *int64     `json:"converted_to_order_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Lines              []Line     `json:"items"`
}

type CreateQuotationRequest struct {
	CustomerID   *int64    `json:"customer_id,omitempty" validate:"required_without=ProspectName,omitempty,gt=0"`
	ProspectName *string   `json:"prospect_name,omitempty" validate:"omitempty,max=200"`
	QuoteDate    time.Time `json:"quote_date" validate:"required"`
	ValidUntil   time.Time `json:"valid_until" validate:"required"`
	Currency     string    `json:"currency" validate:"required,len=3"`
	ExchangeRate float64   `json:"exchange_rate" validate:"gte=0"`
	PriceListID  *int64    `json:"price_list_id,omitempty" validate:"omitempty,gt=0"`
	HeaderAdjustments
	Notes *string       `json:"notes,omitempty"`
	Lines []LineRequest `json:"items" validate:"required,min=1,dive"`
}

// UpdateQuotationRequest replaces the editable content of a DRAFT quotation.
type UpdateQuotationRequest = CreateQuotationRequest

type RejectQuotationRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ConvertQuotationRequest struct {
	CustomerID  *int64     `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	OrderDate   *time.Time `json:"order_date,omitempty"`
	WarehouseID *int64     `json:"warehouse_id,omitempty" validate:"omitempty,gt=0"`
}

// ============================================================================
// SALES ORDER
// ============================================================================

type SalesOrderStatus string

const (
	SalesOrderStatusDraft              SalesOrderStatus = "DRAFT"
	SalesOrderStatusApproved           SalesOrderStatus = "APPROVED"
	SalesOrderStatusConfirmed          SalesOrderStatus = "CONFIRMED"
	SalesOrderStatusPartiallyDelivered SalesOrderStatus = "PARTIALLY_DELIVERED"
	SalesOrderStatusDelivered          SalesOrderStatus = "DELIVERED"
	SalesOrderStatusCancelled          SalesOrderStatus = "CANCELLED"
)

// Deliverable reports whether delivery notes may be created against the order.
func (s SalesOrderStatus) Deliverable() bool {
	switch s {
	case SalesOrderStatusApproved, SalesOrderStatusConfirmed, SalesOrderStatusPartiallyDelivered:
		return true
	}
	return false
}

// CreditStatus is the outcome of the credit check run at order creation.
type CreditStatus string

const (
	CreditPassed  CreditStatus = "PASSED"
	CreditFailed  CreditStatus = "FAILED"
	CreditSkipped CreditStatus = "SKIPPED"
)

// CreditCheck records the figures the decision was based on.
type CreditCheck struct {
	Status   CreditStatus `json:"status"`
	Limit    *float64     `json:"limit,omitempty"`
	Exposure float64      `json:"exposure"`
}

type SalesOrder struct {
	ID                   int64            `json:"id"`
	DocNumber            string           `json:"doc_number"`
	CompanyID            int64            `json:"company_id"`
	CustomerID           int64            `json:"customer_id"`
	QuotationID          *int64           `json:"quotation_id,omitempty"`
	WarehouseID          *int64           `json:"warehouse_id,omitempty"`
	OrderDate            time.Time        `json:"order_date"`
	ExpectedDeliveryDate *time.Time       `json:"expected_delivery_date,omitempty"`
	Status               SalesOrderStatus `json:"status"`
	Currency             string           `json:"currency"`
	ExchangeRate         float64          `json:"exchange_rate"`
	PriceListID          *int64           `json:"price_list_id,omitempty"`
	HeaderAdjustments
	Totals
	Credit             CreditCheck `json:"credit_check"`
	Notes              *string     `json:"notes,omitempty"`
	CreatedBy          int64       `json:"created_by"`
	ApprovedBy         *int64      `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time  `json:"approved_at,omitempty"`
	OverrideReason     *string     `json:"override_reason,omitempty"`
	ConfirmedBy        *int64      `json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time  `json:"confirmed_at,omitempty"`
	CancelledBy        *int64      `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
	CancellationReason *string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	Lines              []OrderLine `json:"items"`
}

type CreateSalesOrderRequest struct {
	CustomerID           int64      `json:"customer_id" validate:"required,gt=0"`
	WarehouseID          *int64     `json:"warehouse_id,omitempty" validate:"omitempty,gt=0"`
	OrderDate            time.Time  `json:"order_date" validate:"required"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty"`
	Currency             string     `json:"currency" validate:"required,len=3"`
	ExchangeRate         float64    `json:"exchange_rate" validate:"gte=0"`
	PriceListID          *int64     `json:"price_list_id,omitempty" validate:"omitempty,gt=0"`
	HeaderAdjustments
	SkipCreditCheck bool          `json:"skip_credit_check"`
	Notes           *string       `json:"notes,omitempty"`
	Lines           []LineRequest `json:"items" validate:"required,min=1,dive"`
}

type ApproveSalesOrderRequest struct {
	OverrideReason string `json:"override_reason" validate:"max=500"`
}

type CancelSalesOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ============================================================================
// LIST & FILTER REQUESTS
// ============================================================================

type ListQuotationsRequest struct {
	CompanyID  int64
	CustomerID *int64
	Status     *QuotationStatus
	DateFrom   *time.Time
	DateTo     *time.Time
	Search     string
	Limit      int
	Offset     int
}

type ListSalesOrdersRequest struct {
	CompanyID  int64
	CustomerID *int64
	Status     *SalesOrderStatus
	DateFrom   *time.Time
	DateTo     *time.Time
	Search     string
	Limit      int
	Offset     int
}

// PriceSource resolves a unit price; *pricing.Resolver satisfies it.
type PriceSource interface {
	GetPrice(ctx context.Context, q pricing.Query) (*pricing.Result, error)
}
