package items

// CreateItemRequest is the body of POST /items.
type CreateItemRequest struct {
	GroupID         *int64          `json:"group_id" validate:"omitempty,gt=0"`
	Code            string          `json:"code" validate:"required,max=64"`
	Name            string          `json:"name" validate:"required,max=200"`
	BaseUOMID       int64           `json:"base_uom_id" validate:"required,gt=0"`
	TrackingPolicy  TrackingPolicy  `json:"tracking_policy" validate:"omitempty,oneof=NONE BATCH SERIAL"`
	ValuationMethod ValuationMethod `json:"valuation_method" validate:"omitempty,oneof=AVERAGE FIFO"`
	IsComposite     bool            `json:"is_composite"`
	SellingPrice    float64         `json:"selling_price" validate:"gte=0"`
}

// UpdateItemRequest is a partial update; nil fields are left untouched.
type UpdateItemRequest struct {
	GroupID         *int64           `json:"group_id" validate:"omitempty,gt=0"`
	Name            *string          `json:"name" validate:"omitempty,max=200"`
	BaseUOMID       *int64           `json:"base_uom_id" validate:"omitempty,gt=0"`
	TrackingPolicy  *TrackingPolicy  `json:"tracking_policy" validate:"omitempty,oneof=NONE BATCH SERIAL"`
	ValuationMethod *ValuationMethod `json:"valuation_method" validate:"omitempty,oneof=AVERAGE FIFO"`
	IsComposite     *bool            `json:"is_composite"`
	SellingPrice    *float64         `json:"selling_price" validate:"omitempty,gte=0"`
	IsActive        *bool            `json:"is_active"`
}

// CreateGroupRequest is the body of POST /item-groups.
type CreateGroupRequest struct {
	Code string `json:"code" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
}
