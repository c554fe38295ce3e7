package inventory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const qtyEpsilon = 0.0001

// MovementStore is the transactional surface a ledger write needs. Callers that must post
// movements together with other writes (delivery notes) pass their own transaction's store.
type MovementStore interface {
	GetBalanceForUpdate(ctx context.Context, companyID, itemID, warehouseID int64) (Balance, bool, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

// Ledger appends movements and keeps stock balances at moving-average cost.
type Ledger struct {
	AllowNegative bool
	Now           func() time.Time
}

// Record validates in, locks the balance row, appends the movement and updates the balance.
func (l Ledger) Record(ctx context.Context, store MovementStore, in MovementInput) (Movement, error) {
	if err := validateMovement(in); err != nil {
		return Movement{}, err
	}
	now := time.Now().UTC()
	if l.Now != nil {
		now = l.Now().UTC()
	}
	balance, found, err := store.GetBalanceForUpdate(ctx, in.CompanyID, in.ItemID, in.WarehouseID)
	if err != nil {
		return Movement{}, err
	}
	if !found {
		balance = Balance{CompanyID: in.CompanyID, ItemID: in.ItemID, WarehouseID: in.WarehouseID}
	}
	newQty := balance.Qty + in.Quantity
	if !l.AllowNegative && newQty < -qtyEpsilon {
		return Movement{}, ErrNegativeStock
	}
	var unitCost, newAvg float64
	if in.Quantity > 0 {
		unitCost = in.UnitCost
		if newQty > qtyEpsilon {
			newAvg = (math.Max(balance.Qty, 0)*balance.AvgCost + in.Quantity*unitCost) / newQty
		}
	} else {
		unitCost = balance.AvgCost
		if math.Abs(newQty) < qtyEpsilon {
			newQty = 0
		}
		if newQty > 0 {
			newAvg = balance.AvgCost
		}
	}
	m := Movement{
		CompanyID:     in.CompanyID,
		ItemID:        in.ItemID,
		WarehouseID:   in.WarehouseID,
		UOMID:         in.UOMID,
		Type:          in.Type,
		Quantity:      in.Quantity,
		UnitCost:      unitCost,
		BalanceQty:    newQty,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		BatchNumber:   in.BatchNumber,
		Notes:         in.Notes,
		CreatedBy:     in.UserID,
		CreatedAt:     now,
	}
	id, err := store.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	balance.Qty = newQty
	balance.AvgCost = newAvg
	balance.UpdatedAt = now
	if err := store.UpsertBalance(ctx, balance); err != nil {
		return Movement{}, err
	}
	return m, nil
}

func validateMovement(in MovementInput) error {
	if in.CompanyID == 0 || in.ItemID == 0 || in.WarehouseID == 0 {
		return shared.Validation("item_id", "inventory: company, item and warehouse are required")
	}
	if in.UOMID == 0 {
		return shared.Validation("uom_id", "inventory: uom is required")
	}
	if in.ReferenceType == "" {
		return shared.Validation("reference_type", "inventory: reference type is required")
	}
	if math.Abs(in.Quantity) < qtyEpsilon {
		return ErrInvalidQuantity
	}
	switch in.Type {
	case MovementGoodsIssue:
		if in.Quantity > 0 {
			return fmt.Errorf("%w: goods issue must be negative", ErrInvalidQuantity)
		}
	case MovementGoodsReceipt:
		if in.Quantity < 0 {
			return fmt.Errorf("%w: goods receipt must be positive", ErrInvalidQuantity)
		}
	case MovementAdjustment:
	default:
		return shared.Validation("type", "inventory: unknown movement type %q", in.Type)
	}
	if in.UnitCost < 0 {
		return shared.Validation("unit_cost", "inventory: unit cost cannot be negative")
	}
	return nil
}
