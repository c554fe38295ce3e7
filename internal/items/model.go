// Package items maintains the item master and item groups.
package items

import "time"

// TrackingPolicy controls batch or serial capture on stock documents.
type TrackingPolicy string

const (
	TrackingNone   TrackingPolicy = "NONE"
	TrackingBatch  TrackingPolicy = "BATCH"
	TrackingSerial TrackingPolicy = "SERIAL"
)

// ValuationMethod controls how stock is costed.
type ValuationMethod string

const (
	ValuationAverage ValuationMethod = "AVERAGE"
	ValuationFIFO    ValuationMethod = "FIFO"
)

// Item is a sellable or stockable product of a company.
type Item struct {
	ID              int64           `json:"id"`
	CompanyID       int64           `json:"company_id"`
	GroupID         *int64          `json:"group_id,omitempty"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	BaseUOMID       int64           `json:"base_uom_id"`
	TrackingPolicy  TrackingPolicy  `json:"tracking_policy"`
	ValuationMethod ValuationMethod `json:"valuation_method"`
	IsComposite     bool            `json:"is_composite"`
	SellingPrice    float64         `json:"selling_price"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Group clusters items; the pricing category tier keys off it.
type Group struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilters narrows item listings.
type ListFilters struct {
	Search   string
	GroupID  *int64
	IsActive *bool
	SortBy   string
	SortDir  string
	Limit    int
	Offset   int
}
