package pricing

import "time"

// Source tags where a resolved price came from.
type Source string

const (
	// SourceCustomer is a price list assigned directly to the customer.
	SourceCustomer Source = "customer"
	// SourceCategory is the default price list of the customer's category.
	SourceCategory Source = "category"
	// SourceCompany is the company-wide default price list.
	SourceCompany Source = "company"
	// SourceDefault is the item's base selling price.
	SourceDefault Source = "default"
)

// tierOffset keeps every customer-specific priority ahead of category and company lists.
var tierOffset = map[Source]int{
	SourceCustomer: 0,
	SourceCategory: 1000,
	SourceCompany:  2000,
}

// Query asks for the unit price of an item.
type Query struct {
	CompanyID  int64
	ItemID     int64
	Quantity   float64
	CustomerID *int64
	UOMID      *int64
	On         time.Time
}

// Item is the pricing view of an item master row.
type Item struct {
	ID           int64
	CompanyID    int64
	SellingPrice float64
	BaseUOMID    int64
}

// Candidate is one price_list_items row reachable through one of the list tiers.
type Candidate struct {
	PriceListID   int64
	PriceListName string
	Tier          Source
	Priority      int
	ItemID        int64
	UOMID         *int64
	UnitPrice     float64
	MinQty        float64
	MaxQty        *float64
	ValidFrom     *time.Time
	ValidTo       *time.Time
	IsActive      bool
}

// Result is a resolved price.
type Result struct {
	UnitPrice         float64 `json:"unit_price"`
	Source            Source  `json:"source"`
	PriceListID       *int64  `json:"price_list_id,omitempty"`
	PriceListName     string  `json:"price_list_name,omitempty"`
	EffectivePriority int     `json:"effective_priority,omitempty"`
	UOMID             int64   `json:"uom_id"`
	MinQty            float64 `json:"min_qty"`
}
