package inventory

import (
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// MovementType enumerates ledger entry kinds.
type MovementType string

const (
	// MovementGoodsIssue removes stock, e.g. a posted delivery note.
	MovementGoodsIssue MovementType = "GOODS_ISSUE"
	// MovementGoodsReceipt adds stock.
	MovementGoodsReceipt MovementType = "GOODS_RECEIPT"
	// MovementAdjustment corrects stock in either direction.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Movement is one immutable row of inventory_transactions.
type Movement struct {
	ID            int64        `json:"id"`
	CompanyID     int64        `json:"company_id"`
	ItemID        int64        `json:"item_id"`
	WarehouseID   int64        `json:"warehouse_id"`
	UOMID         int64        `json:"uom_id"`
	Type          MovementType `json:"type"`
	Quantity      float64      `json:"quantity"`
	UnitCost      float64      `json:"unit_cost"`
	BalanceQty    float64      `json:"balance_qty"`
	ReferenceType string       `json:"reference_type"`
	ReferenceID   int64        `json:"reference_id"`
	BatchNumber   string       `json:"batch_number,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedBy     int64        `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
}

// MovementInput is the recordMovement contract. Quantity is signed.
type MovementInput struct {
	CompanyID     int64
	ItemID        int64
	WarehouseID   int64
	UOMID         int64
	Type          MovementType
	Quantity      float64
	UnitCost      float64
	ReferenceType string
	ReferenceID   int64
	BatchNumber   string
	Notes         string
	UserID        int64
}

// Balance summarises stock of an item in a warehouse.
type Balance struct {
	CompanyID   int64     `json:"company_id"`
	ItemID      int64     `json:"item_id"`
	WarehouseID int64     `json:"warehouse_id"`
	Qty         float64   `json:"qty"`
	AvgCost     float64   `json:"avg_cost"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReservationStatus is the lifecycle of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// Reservation is a provisional claim on stock for one source document line.
type Reservation struct {
	ID           int64             `json:"id"`
	CompanyID    int64             `json:"company_id"`
	ItemID       int64             `json:"item_id"`
	WarehouseID  *int64            `json:"warehouse_id,omitempty"`
	SourceType   string            `json:"source_type"`
	SourceID     int64             `json:"source_id"`
	SourceLineID int64             `json:"source_line_id"`
	ReservedQty  float64           `json:"reserved_qty"`
	FulfilledQty float64           `json:"fulfilled_qty"`
	Status       ReservationStatus `json:"status"`
	CreatedBy    int64             `json:"created_by"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	CompanyID     int64
	ItemID        *int64
	WarehouseID   *int64
	ReferenceType string
	ReferenceID   *int64
	Limit         int
	Offset        int
}

// AdjustmentRequest is the body of a manual stock adjustment.
type AdjustmentRequest struct {
	ItemID      int64   `json:"item_id" validate:"required,gt=0"`
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	UOMID       int64   `json:"uom_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,ne=0"`
	UnitCost    float64 `json:"unit_cost" validate:"gte=0"`
	BatchNumber string  `json:"batch_number" validate:"max=64"`
	Notes       string  `json:"notes" validate:"required,max=500"`
}

// Reference types written by the back office.
const (
	RefDeliveryNote = "delivery_note"
	RefAdjustment   = "stock_adjustment"
	RefSalesOrder   = "sales_order"
)

var (
	// ErrNegativeStock triggered when movement would result negative qty.
	ErrNegativeStock = shared.Conflict("NEGATIVE_STOCK", "inventory: negative stock not allowed")
	// ErrInvalidQuantity is returned for zero or wrongly signed quantities.
	ErrInvalidQuantity = shared.Validation("quantity", "inventory: invalid quantity")
)
