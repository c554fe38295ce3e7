package inventory

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ReferenceStore answers whether master data rows belong to a company.
type ReferenceStore interface {
	ItemExists(ctx context.Context, companyID, id int64) (bool, error)
	WarehouseExists(ctx context.Context, companyID, id int64) (bool, error)
}

// RequireItem fails with a not-found error on field when the item is not a live item of
// the company.
func RequireItem(ctx context.Context, store ReferenceStore, companyID, id int64, field string) error {
	ok, err := store.ItemExists(ctx, companyID, id)
	if err != nil {
		return fmt.Errorf("check item %d: %w", id, err)
	}
	if !ok {
		e := shared.NotFound("item", id)
		e.Field = field
		return e
	}
	return nil
}

// RequireWarehouse fails with a not-found error on field when the warehouse belongs to
// another company or does not exist.
func RequireWarehouse(ctx context.Context, store ReferenceStore, companyID, id int64, field string) error {
	ok, err := store.WarehouseExists(ctx, companyID, id)
	if err != nil {
		return fmt.Errorf("check warehouse %d: %w", id, err)
	}
	if !ok {
		e := shared.NotFound("warehouse", id)
		e.Field = field
		return e
	}
	return nil
}
