package items

import (
	"context"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Fields frozen once the item has any inventory movement.
const (
	FieldBaseUOM         = "base_uom_id"
	FieldTrackingPolicy  = "tracking_policy"
	FieldValuationMethod = "valuation_method"
	FieldIsComposite     = "is_composite"
)

// lockedChanges lists the policy fields req would change on item, in a stable order.
func lockedChanges(item Item, req UpdateItemRequest) []string {
	var fields []string
	if req.BaseUOMID != nil && *req.BaseUOMID != item.BaseUOMID {
		fields = append(fields, FieldBaseUOM)
	}
	if req.TrackingPolicy != nil && *req.TrackingPolicy != item.TrackingPolicy {
		fields = append(fields, FieldTrackingPolicy)
	}
	if req.ValuationMethod != nil && *req.ValuationMethod != item.ValuationMethod {
		fields = append(fields, FieldValuationMethod)
	}
	if req.IsComposite != nil && *req.IsComposite != item.IsComposite {
		fields = append(fields, FieldIsComposite)
	}
	return fields
}

func policyLockedError(itemID int64, fields []string) error {
	err := shared.Conflict(shared.CodeItemPolicyLocked, "item has inventory movement; %s cannot be changed", strings.Join(fields, ", ")).
		WithEntity("item", itemID).
		WithHint("create a new item")
	err.Fields = fields
	if len(fields) == 1 {
		err.Field = fields[0]
	}
	return err
}

// requireGroup locks the group so it cannot be deleted while an item joins it.
func requireGroup(ctx context.Context, tx TxRepository, companyID int64, groupID *int64) error {
	if groupID == nil {
		return nil
	}
	if _, err := tx.GetGroupForUpdate(ctx, companyID, *groupID); err != nil {
		if appErr, ok := shared.AsError(err); ok && appErr.Kind == shared.KindNotFound {
			appErr.Field = "group_id"
		}
		return err
	}
	return nil
}

func applyUpdate(item Item, req UpdateItemRequest) Item {
	if req.GroupID != nil {
		item.GroupID = req.GroupID
	}
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.BaseUOMID != nil {
		item.BaseUOMID = *req.BaseUOMID
	}
	if req.TrackingPolicy != nil {
		item.TrackingPolicy = *req.TrackingPolicy
	}
	if req.ValuationMethod != nil {
		item.ValuationMethod = *req.ValuationMethod
	}
	if req.IsComposite != nil {
		item.IsComposite = *req.IsComposite
	}
	if req.SellingPrice != nil {
		item.SellingPrice = *req.SellingPrice
	}
	if req.IsActive != nil {
		item.IsActive = *req.IsActive
	}
	return item
}

func (s *Service) validate(item Item) error {
	if strings.TrimSpace(item.Code) == "" {
		return shared.Validation("code", "item code is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		return shared.Validation("name", "item name is required")
	}
	if item.BaseUOMID <= 0 {
		return shared.Validation("base_uom_id", "base uom is required")
	}
	return nil
}
