package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// SQLRepository reads pricing inputs from PostgreSQL.
type SQLRepository struct {
	q db.DBTX
}

// NewRepository constructs a SQLRepository.
func NewRepository(q db.DBTX) *SQLRepository {
	return &SQLRepository{q: q}
}

// GetItem implements Repository.
func (r *SQLRepository) GetItem(ctx context.Context, companyID, itemID int64) (Item, error) {
	var item Item
	err := r.q.QueryRow(ctx, `SELECT id, company_id, COALESCE(selling_price, 0), base_uom_id
FROM items WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, itemID, companyID).
		Scan(&item.ID, &item.CompanyID, &item.SellingPrice, &item.BaseUOMID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("pricing: get item: %w", err)
	}
	return item, nil
}

// ListCandidates implements Repository. List-level validity and type are filtered here;
// row-level brackets are left to SelectBest.
func (r *SQLRepository) ListCandidates(ctx context.Context, q Query) ([]Candidate, error) {
	const query = `WITH lists AS (
	SELECT cpl.price_list_id AS id, 'customer'::text AS tier, COALESCE(cpl.priority, pl.priority) AS priority
	FROM customer_price_lists cpl
	JOIN price_lists pl ON pl.id = cpl.price_list_id
	WHERE $3::bigint IS NOT NULL AND cpl.customer_id = $3 AND cpl.is_active
	  AND (cpl.valid_from IS NULL OR cpl.valid_from <= $4::date)
	  AND (cpl.valid_to IS NULL OR cpl.valid_to >= $4::date)
	UNION ALL
	SELECT cc.default_price_list_id, 'category', pl.priority
	FROM customers c
	JOIN customer_categories cc ON cc.id = c.category_id AND cc.company_id = c.company_id
	JOIN price_lists pl ON pl.id = cc.default_price_list_id
	WHERE $3::bigint IS NOT NULL AND c.id = $3 AND c.company_id = $1
	UNION ALL
	SELECT pl.id, 'company', pl.priority
	FROM price_lists pl
	WHERE pl.company_id = $1 AND pl.is_default
)
SELECT pl.id, pl.name, l.tier, l.priority, pli.item_id, pli.uom_id, pli.unit_price,
       COALESCE(pli.min_qty, 0), pli.max_qty, pli.valid_from, pli.valid_to, pli.is_active
FROM lists l
JOIN price_lists pl ON pl.id = l.id
JOIN price_list_items pli ON pli.price_list_id = pl.id
WHERE pl.company_id = $1 AND pl.deleted_at IS NULL AND pl.is_active
  AND pl.price_list_type IN ('sales', 'both')
  AND (pl.valid_from IS NULL OR pl.valid_from <= $4::date)
  AND (pl.valid_to IS NULL OR pl.valid_to >= $4::date)
  AND pli.item_id = $2`
	rows, err := r.q.Query(ctx, query, q.CompanyID, q.ItemID, q.CustomerID, q.On)
	if err != nil {
		return nil, fmt.Errorf("pricing: list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var tier string
		if err := rows.Scan(&c.PriceListID, &c.PriceListName, &tier, &c.Priority, &c.ItemID, &c.UOMID,
			&c.UnitPrice, &c.MinQty, &c.MaxQty, &c.ValidFrom, &c.ValidTo, &c.IsActive); err != nil {
			return nil, err
		}
		c.Tier = Source(tier)
		out = append(out, c)
	}
	return out, rows.Err()
}
