package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/filter"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*SQLStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, SQLStore: NewSQLStore(pool)}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewSQLStore(tx))
	})
}

// SQLStore runs inventory statements on a pool or on a caller's transaction.
type SQLStore struct {
	q db.DBTX
}

// NewSQLStore binds a store to q.
func NewSQLStore(q db.DBTX) *SQLStore {
	return &SQLStore{q: q}
}

// ============================================================================
// LEDGER
// ============================================================================

// GetBalanceForUpdate locks the balance row of an item in a warehouse.
func (s *SQLStore) GetBalanceForUpdate(ctx context.Context, companyID, itemID, warehouseID int64) (Balance, bool, error) {
	var b Balance
	err := s.q.QueryRow(ctx, `SELECT company_id, item_id, warehouse_id, qty, avg_cost, updated_at
FROM stock_balances WHERE company_id = $1 AND item_id = $2 AND warehouse_id = $3
FOR UPDATE`, companyID, itemID, warehouseID).Scan(&b.CompanyID, &b.ItemID, &b.WarehouseID, &b.Qty, &b.AvgCost, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, fmt.Errorf("inventory: lock balance: %w", err)
	}
	return b, true, nil
}

// UpsertBalance writes the balance row.
func (s *SQLStore) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := s.q.Exec(ctx, `INSERT INTO stock_balances (company_id, item_id, warehouse_id, qty, avg_cost, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (company_id, item_id, warehouse_id)
DO UPDATE SET qty = EXCLUDED.qty, avg_cost = EXCLUDED.avg_cost, updated_at = EXCLUDED.updated_at`,
		b.CompanyID, b.ItemID, b.WarehouseID, b.Qty, b.AvgCost, b.UpdatedAt)
	return err
}

// InsertMovement appends a ledger row.
func (s *SQLStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO inventory_transactions
(company_id, item_id, warehouse_id, uom_id, transaction_type, quantity, unit_cost, balance_qty,
 reference_type, reference_id, batch_number, notes, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, 0), NULLIF($11, ''), NULLIF($12, ''), $13, $14)
RETURNING id`,
		m.CompanyID, m.ItemID, m.WarehouseID, m.UOMID, string(m.Type), m.Quantity, m.UnitCost, m.BalanceQty,
		m.ReferenceType, m.ReferenceID, m.BatchNumber, m.Notes, m.CreatedBy, m.CreatedAt).Scan(&id)
	if err != nil {
		return 0, db.TranslateError(err, "inventory transaction", nil)
	}
	return id, nil
}

// ItemExists implements ReferenceStore.
func (s *SQLStore) ItemExists(ctx context.Context, companyID, id int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM items WHERE company_id = $1 AND id = $2 AND deleted_at IS NULL
)`, companyID, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inventory: item exists: %w", err)
	}
	return exists, nil
}

// WarehouseExists implements ReferenceStore.
func (s *SQLStore) WarehouseExists(ctx context.Context, companyID, id int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM warehouses WHERE company_id = $1 AND id = $2
)`, companyID, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inventory: warehouse exists: %w", err)
	}
	return exists, nil
}

// HasMovement reports whether any ledger row references the item.
func (s *SQLStore) HasMovement(ctx context.Context, companyID, itemID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM inventory_transactions WHERE company_id = $1 AND item_id = $2
)`, companyID, itemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inventory: has movement: %w", err)
	}
	return exists, nil
}

// ListBalances lists balances of an item.
func (s *SQLStore) ListBalances(ctx context.Context, companyID, itemID int64) ([]Balance, error) {
	rows, err := s.q.Query(ctx, `SELECT company_id, item_id, warehouse_id, qty, avg_cost, updated_at
FROM stock_balances WHERE company_id = $1 AND item_id = $2 ORDER BY warehouse_id`, companyID, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.CompanyID, &b.ItemID, &b.WarehouseID, &b.Qty, &b.AvgCost, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

var movementColumns = filter.Columns{
	"item_id":        "item_id",
	"warehouse_id":   "warehouse_id",
	"reference_type": "reference_type",
	"reference_id":   "reference_id",
}

// ListMovements lists ledger rows newest first.
func (s *SQLStore) ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error) {
	b := filter.New(movementColumns).
		WhereIf(f.ItemID != nil, "item_id", filter.Eq, deref(f.ItemID)).
		WhereIf(f.WarehouseID != nil, "warehouse_id", filter.Eq, deref(f.WarehouseID)).
		WhereIf(f.ReferenceType != "", "reference_type", filter.Eq, f.ReferenceType).
		WhereIf(f.ReferenceID != nil, "reference_id", filter.Eq, deref(f.ReferenceID))
	clause, args, next, err := b.Compile(2)
	if err != nil {
		return nil, err
	}
	where := "company_id = $1"
	if clause != "" {
		where += " AND " + clause
	}
	limit, offset := filter.Page(f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT id, company_id, item_id, warehouse_id, uom_id, transaction_type, quantity, unit_cost,
balance_qty, reference_type, COALESCE(reference_id, 0), COALESCE(batch_number, ''), COALESCE(notes, ''), created_by, created_at
FROM inventory_transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, next, next+1)
	all := append([]any{f.CompanyID}, args...)
	all = append(all, limit, offset)
	rows, err := s.q.Query(ctx, query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var typ string
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ItemID, &m.WarehouseID, &m.UOMID, &typ, &m.Quantity, &m.UnitCost,
			&m.BalanceQty, &m.ReferenceType, &m.ReferenceID, &m.BatchNumber, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ============================================================================
// RESERVATIONS
// ============================================================================

const reservationColumns = `id, company_id, item_id, warehouse_id, source_type, source_id, source_line_id,
reserved_qty, fulfilled_qty, status, created_by, updated_at`

func scanReservation(row pgx.Row) (Reservation, error) {
	var r Reservation
	var status string
	err := row.Scan(&r.ID, &r.CompanyID, &r.ItemID, &r.WarehouseID, &r.SourceType, &r.SourceID, &r.SourceLineID,
		&r.ReservedQty, &r.FulfilledQty, &status, &r.CreatedBy, &r.UpdatedAt)
	r.Status = ReservationStatus(status)
	return r, err
}

// InsertReservation creates an ACTIVE reservation.
func (s *SQLStore) InsertReservation(ctx context.Context, r Reservation) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO inventory_reservations
(company_id, item_id, warehouse_id, source_type, source_id, source_line_id, reserved_qty, fulfilled_qty, status, created_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 'ACTIVE', $8, $9)
RETURNING id`, r.CompanyID, r.ItemID, r.WarehouseID, r.SourceType, r.SourceID, r.SourceLineID, r.ReservedQty, r.CreatedBy, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, db.TranslateError(err, "inventory reservation", nil)
	}
	return id, nil
}

// LockActiveReservations implements ReservationStore.
func (s *SQLStore) LockActiveReservations(ctx context.Context, companyID int64, sourceType string, sourceID, sourceLineID, itemID int64) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `SELECT `+reservationColumns+`
FROM inventory_reservations
WHERE company_id = $1 AND source_type = $2 AND source_id = $3 AND source_line_id = $4 AND item_id = $5 AND status = 'ACTIVE'
ORDER BY id
FOR UPDATE`, companyID, sourceType, sourceID, sourceLineID, itemID)
	if err != nil {
		return nil, fmt.Errorf("inventory: lock reservations: %w", err)
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReservation implements ReservationStore.
func (s *SQLStore) UpdateReservation(ctx context.Context, r Reservation) error {
	_, err := s.q.Exec(ctx, `UPDATE inventory_reservations SET fulfilled_qty = $2, status = $3, updated_at = $4 WHERE id = $1`,
		r.ID, r.FulfilledQty, string(r.Status), r.UpdatedAt)
	return err
}

// ReleaseReservations releases every ACTIVE reservation of a source document.
func (s *SQLStore) ReleaseReservations(ctx context.Context, companyID int64, sourceType string, sourceID int64, at time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `UPDATE inventory_reservations SET status = 'RELEASED', updated_at = $4
WHERE company_id = $1 AND source_type = $2 AND source_id = $3 AND status = 'ACTIVE'`, companyID, sourceType, sourceID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListReservations lists every reservation of a source document.
func (s *SQLStore) ListReservations(ctx context.Context, companyID int64, sourceType string, sourceID int64) ([]Reservation, error) {
	rows, err := s.q.Query(ctx, `SELECT `+reservationColumns+`
FROM inventory_reservations WHERE company_id = $1 AND source_type = $2 AND source_id = $3 ORDER BY id`, companyID, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
