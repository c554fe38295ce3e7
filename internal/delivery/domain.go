// Package delivery issues delivery notes against sales orders and posts their stock movements.
package delivery

import (
	"time"
)

// ============================================================================
// DELIVERY NOTE STATUS
// ============================================================================

// Status is the lifecycle of a delivery note.
type Status string

const (
	StatusDraft      Status = "DRAFT"      // created from an order, nothing posted yet
	StatusReady      Status = "READY"      // inventory posted, waiting for pickup
	StatusDispatched Status = "DISPATCHED" // on its way
	StatusDelivered  Status = "DELIVERED"  // received by the customer
	StatusCancelled  Status = "CANCELLED"
)

// Confirmable reports whether delivery can be confirmed from this status.
func (s Status) Confirmable() bool {
	switch s {
	case StatusDraft, StatusReady, StatusDispatched:
		return true
	}
	return false
}

// Open reports whether the note still counts against the order's deliverable quantity.
func (s Status) Open() bool {
	return s == StatusDraft || s == StatusReady || s == StatusDispatched
}

// ============================================================================
// DELIVERY NOTE ENTITY
// ============================================================================

// Note is a delivery note for exactly one sales order.
type Note struct {
	ID                 int64      `json:"id"`
	DocNumber          string     `json:"doc_number"`
	CompanyID          int64      `json:"company_id"`
	SalesOrderID       int64      `json:"sales_order_id"`
	CustomerID         int64      `json:"customer_id"`
	WarehouseID        int64      `json:"warehouse_id"`
	DeliveryDate       time.Time  `json:"delivery_date"`
	Status             Status     `json:"status"`
	InventoryPosted    bool       `json:"inventory_posted"`
	InventoryPostedBy  *int64     `json:"inventory_posted_by,omitempty"`
	InventoryPostedAt  *time.Time `json:"inventory_posted_at,omitempty"`
	DriverName         *string    `json:"driver_name,omitempty"`
	VehicleNumber      *string    `json:"vehicle_number,omitempty"`
	TrackingNumber     *string    `json:"tracking_number,omitempty"`
	DispatchedBy       *int64     `json:"dispatched_by,omitempty"`
	DispatchedAt       *time.Time `json:"dispatched_at,omitempty"`
	ReceivedBy         *string    `json:"received_by,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	ConfirmedBy        *int64     `json:"confirmed_by,omitempty"`
	CancelledBy        *int64     `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	CreatedBy          int64      `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Lines              []Line     `json:"items"`
}

// Line is one delivered order line.
type Line struct {
	ID               int64    `json:"id"`
	DeliveryNoteID   int64    `json:"delivery_note_id"`
	SalesOrderItemID int64    `json:"sales_order_item_id"`
	ItemID           int64    `json:"item_id"`
	UOMID            int64    `json:"uom_id"`
	DeliveredQty     float64  `json:"delivered_qty"`
	UnitPrice        float64  `json:"unit_price"`
	BatchNumber      *string  `json:"batch_number,omitempty"`
	SerialNumbers    []string `json:"serial_numbers,omitempty"`
	LineOrder        int      `json:"line_order"`
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// CreateFromOrderRequest creates a note from an order's deliverable quantities. Items limits
// the note to the listed order lines and quantities.
type CreateFromOrderRequest struct {
	SalesOrderID  int64          `json:"sales_order_id" validate:"required,gt=0"`
	WarehouseID   int64          `json:"warehouse_id" validate:"required,gt=0"`
	DeliveryDate  *time.Time     `json:"delivery_date,omitempty"`
	DriverName    *string        `json:"driver_name,omitempty" validate:"omitempty,max=200"`
	VehicleNumber *string        `json:"vehicle_number,omitempty" validate:"omitempty,max=50"`
	Notes         *string        `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Items         []LineQuantity `json:"items,omitempty" validate:"omitempty,dive"`
}

// LineQuantity picks the quantity to deliver for one order line.
type LineQuantity struct {
	SalesOrderItemID int64    `json:"sales_order_item_id" validate:"required,gt=0"`
	Quantity         float64  `json:"quantity" validate:"required,gt=0"`
	BatchNumber      *string  `json:"batch_number,omitempty" validate:"omitempty,max=64"`
	SerialNumbers    []string `json:"serial_numbers,omitempty" validate:"omitempty,dive,max=64"`
}

// DispatchRequest records carrier details on dispatch.
type DispatchRequest struct {
	DriverName     *string `json:"driver_name,omitempty" validate:"omitempty,max=200"`
	VehicleNumber  *string `json:"vehicle_number,omitempty" validate:"omitempty,max=50"`
	TrackingNumber *string `json:"tracking_number,omitempty" validate:"omitempty,max=100"`
}

// ConfirmDeliveryRequest names who received the goods.
type ConfirmDeliveryRequest struct {
	ReceivedBy string `json:"received_by" validate:"required,max=200"`
}

// CancelRequest carries the cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ============================================================================
// LIST & FILTER REQUESTS
// ============================================================================

// ListRequest filters delivery note listings.
type ListRequest struct {
	CompanyID    int64
	SalesOrderID *int64
	WarehouseID  *int64
	Status       *Status
	DateFrom     *time.Time
	DateTo       *time.Time
	Search       string
	Limit        int
	Offset       int
}
