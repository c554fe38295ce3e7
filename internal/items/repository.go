package items

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/filter"
)

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL item repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, company_id, group_id, code, name, base_uom_id, tracking_policy, valuation_method,
is_composite, selling_price, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var tracking, valuation string
	err := row.Scan(&it.ID, &it.CompanyID, &it.GroupID, &it.Code, &it.Name, &it.BaseUOMID, &tracking, &valuation,
		&it.IsComposite, &it.SellingPrice, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	it.TrackingPolicy = TrackingPolicy(tracking)
	it.ValuationMethod = ValuationMethod(valuation)
	return it, err
}

var listColumns = filter.Columns{
	"group_id":  "group_id",
	"is_active": "is_active",
	"search":    "name",
}

func (r *repository) List(ctx context.Context, companyID int64, filters ListFilters) ([]Item, int, error) {
	b := filter.New(listColumns).
		WhereIf(filters.GroupID != nil, "group_id", filter.Eq, derefID(filters.GroupID)).
		WhereIf(filters.IsActive != nil, "is_active", filter.Eq, filters.IsActive != nil && *filters.IsActive).
		WhereIf(filters.Search != "", "search", filter.ILike, filters.Search)
	clause, args, next, err := b.Compile(2)
	if err != nil {
		return nil, 0, err
	}
	where := "company_id = $1 AND deleted_at IS NULL"
	if clause != "" {
		where += " AND " + clause
	}
	args = append([]any{companyID}, args...)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := filter.Page(filters.Limit, filters.Offset)
	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		itemColumns, where, sortOrder(filters.SortBy, filters.SortDir), next, next+1)
	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items
WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID))
	if err != nil {
		return Item{}, db.TranslateError(err, "item", id)
	}
	return it, nil
}

func (t *txRepository) Create(ctx context.Context, item Item) (Item, error) {
	now := time.Now()
	err := t.tx.QueryRow(ctx, `INSERT INTO items
(company_id, group_id, code, name, base_uom_id, tracking_policy, valuation_method, is_composite, selling_price, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
RETURNING id`, item.CompanyID, item.GroupID, item.Code, item.Name, item.BaseUOMID, string(item.TrackingPolicy),
		string(item.ValuationMethod), item.IsComposite, item.SellingPrice, item.IsActive, now).Scan(&item.ID)
	if err != nil {
		return Item{}, db.TranslateError(err, "item", item.Code)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *repository) CreateGroup(ctx context.Context, group Group) (Group, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `INSERT INTO item_groups (company_id, code, name, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, group.CompanyID, group.Code, group.Name, now).Scan(&group.ID)
	if err != nil {
		return Group{}, db.TranslateError(err, "item group", group.Code)
	}
	group.CreatedAt = now
	return group, nil
}

func (r *repository) ListGroups(ctx context.Context, companyID int64) ([]Group, error) {
	rows, err := r.db.Query(ctx, `SELECT id, company_id, code, name, created_at FROM item_groups
WHERE company_id = $1 AND deleted_at IS NULL ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.CompanyID, &g.Code, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (t *txRepository) GetForUpdate(ctx context.Context, companyID, id int64) (Item, error) {
	it, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items
WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL FOR UPDATE`, id, companyID))
	if err != nil {
		return Item{}, db.TranslateError(err, "item", id)
	}
	return it, nil
}

func (t *txRepository) Update(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `UPDATE items SET group_id = $1, name = $2, base_uom_id = $3, tracking_policy = $4,
valuation_method = $5, is_composite = $6, selling_price = $7, is_active = $8, updated_at = NOW()
WHERE id = $9 AND company_id = $10`, item.GroupID, item.Name, item.BaseUOMID, string(item.TrackingPolicy),
		string(item.ValuationMethod), item.IsComposite, item.SellingPrice, item.IsActive, item.ID, item.CompanyID)
	return db.TranslateError(err, "item", item.ID)
}

func (t *txRepository) SoftDelete(ctx context.Context, companyID, id, actorID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE items SET deleted_at = NOW(), deleted_by = $3, is_active = FALSE
WHERE id = $1 AND company_id = $2`, id, companyID, actorID)
	return err
}

func (t *txRepository) GetGroupForUpdate(ctx context.Context, companyID, id int64) (Group, error) {
	var g Group
	err := t.tx.QueryRow(ctx, `SELECT id, company_id, code, name, created_at FROM item_groups
WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL FOR UPDATE`, id, companyID).
		Scan(&g.ID, &g.CompanyID, &g.Code, &g.Name, &g.CreatedAt)
	if err != nil {
		return Group{}, db.TranslateError(err, "item group", id)
	}
	return g, nil
}

func (t *txRepository) CountGroupItems(ctx context.Context, companyID, groupID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM items
WHERE company_id = $1 AND group_id = $2 AND deleted_at IS NULL`, companyID, groupID).Scan(&n)
	return n, err
}

func (t *txRepository) SoftDeleteGroup(ctx context.Context, companyID, id, actorID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE item_groups SET deleted_at = NOW(), deleted_by = $3
WHERE id = $1 AND company_id = $2`, id, companyID, actorID)
	return err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "selling_price":
		return "selling_price " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}

func derefID(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
