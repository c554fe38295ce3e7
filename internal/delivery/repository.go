package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/filter"
	"github.com/odyssey-erp/backoffice/internal/sales"
)

// PostgresRepository provides PostgreSQL backed persistence for delivery notes.
type PostgresRepository struct {
	pool *pgxpool.Pool
	*SQLStore
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, SQLStore: NewSQLStore(pool)}
}

// SQLStore runs delivery note statements on a pool or on a caller's transaction.
type SQLStore struct {
	q db.DBTX
}

// NewSQLStore binds a store to q.
func NewSQLStore(q db.DBTX) *SQLStore {
	return &SQLStore{q: q}
}

// txStore joins the delivery, numbering, inventory and sales order stores on one transaction.
type txStore struct {
	*SQLStore
	*numbering.SQLSequencer
	inv    *inventory.SQLStore
	orders *sales.SQLStore
}

func (t *txStore) GetBalanceForUpdate(ctx context.Context, companyID, itemID, warehouseID int64) (inventory.Balance, bool, error) {
	return t.inv.GetBalanceForUpdate(ctx, companyID, itemID, warehouseID)
}

func (t *txStore) UpsertBalance(ctx context.Context, b inventory.Balance) error {
	return t.inv.UpsertBalance(ctx, b)
}

func (t *txStore) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	return t.inv.InsertMovement(ctx, m)
}

func (t *txStore) LockActiveReservations(ctx context.Context, companyID int64, sourceType string, sourceID, sourceLineID, itemID int64) ([]inventory.Reservation, error) {
	return t.inv.LockActiveReservations(ctx, companyID, sourceType, sourceID, sourceLineID, itemID)
}

func (t *txStore) UpdateReservation(ctx context.Context, r inventory.Reservation) error {
	return t.inv.UpdateReservation(ctx, r)
}

func (t *txStore) ItemExists(ctx context.Context, companyID, id int64) (bool, error) {
	return t.inv.ItemExists(ctx, companyID, id)
}

func (t *txStore) WarehouseExists(ctx context.Context, companyID, id int64) (bool, error) {
	return t.inv.WarehouseExists(ctx, companyID, id)
}

func (t *txStore) GetOrderForUpdate(ctx context.Context, companyID, id int64) (sales.SalesOrder, error) {
	return t.orders.GetOrderForUpdate(ctx, companyID, id)
}

func (t *txStore) AddDeliveredQty(ctx context.Context, orderID, lineID int64, qty float64) error {
	return t.orders.AddDeliveredQty(ctx, orderID, lineID, qty)
}

func (t *txStore) SetOrderStatus(ctx context.Context, orderID int64, status sales.SalesOrderStatus, at time.Time) error {
	return t.orders.SetOrderStatus(ctx, orderID, status, at)
}

// WithTx wraps callback in a read-committed transaction; every write path locks its rows.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{
			SQLStore:     NewSQLStore(tx),
			SQLSequencer: numbering.NewSQLSequencer(tx),
			inv:          inventory.NewSQLStore(tx),
			orders:       sales.NewSQLStore(tx),
		})
	})
}

// ============================================================================
// DELIVERY NOTES
// ============================================================================

const noteColumns = `id, doc_number, company_id, sales_order_id, customer_id, warehouse_id, delivery_date, status,
inventory_posted, inventory_posted_by, inventory_posted_at, driver_name, vehicle_number, tracking_number,
dispatched_by, dispatched_at, received_by, delivered_at, confirmed_by, cancelled_by, cancelled_at,
cancellation_reason, notes, created_by, created_at, updated_at`

func scanNote(row pgx.Row) (Note, error) {
	var n Note
	var status string
	err := row.Scan(&n.ID, &n.DocNumber, &n.CompanyID, &n.SalesOrderID, &n.CustomerID, &n.WarehouseID, &n.DeliveryDate, &status,
		&n.InventoryPosted, &n.InventoryPostedBy, &n.InventoryPostedAt, &n.DriverName, &n.VehicleNumber, &n.TrackingNumber,
		&n.DispatchedBy, &n.DispatchedAt, &n.ReceivedBy, &n.DeliveredAt, &n.ConfirmedBy, &n.CancelledBy, &n.CancelledAt,
		&n.CancellationReason, &n.Notes, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
	n.Status = Status(status)
	return n, err
}

func (s *SQLStore) Get(ctx context.Context, companyID, id int64) (Note, error) {
	return s.get(ctx, companyID, id, "")
}

func (s *SQLStore) GetForUpdate(ctx context.Context, companyID, id int64) (Note, error) {
	return s.get(ctx, companyID, id, " FOR UPDATE")
}

func (s *SQLStore) get(ctx context.Context, companyID, id int64, lock string) (Note, error) {
	n, err := scanNote(s.q.QueryRow(ctx, `SELECT `+noteColumns+`
FROM delivery_notes WHERE company_id = $1 AND id = $2`+lock, companyID, id))
	if err != nil {
		return Note{}, db.TranslateError(err, "delivery_note", id)
	}
	rows, err := s.q.Query(ctx, `SELECT id, delivery_note_id, sales_order_item_id, item_id, uom_id, delivered_qty, unit_price,
batch_number, COALESCE(serial_numbers, '{}'), line_order
FROM delivery_note_items WHERE delivery_note_id = $1 ORDER BY line_order, id`, id)
	if err != nil {
		return Note{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DeliveryNoteID, &l.SalesOrderItemID, &l.ItemID, &l.UOMID, &l.DeliveredQty, &l.UnitPrice,
			&l.BatchNumber, &l.SerialNumbers, &l.LineOrder); err != nil {
			return Note{}, err
		}
		n.Lines = append(n.Lines, l)
	}
	return n, rows.Err()
}

var listColumns = filter.Columns{
	"sales_order_id": "sales_order_id",
	"warehouse_id":   "warehouse_id",
	"status":         "status",
	"date_from":      "delivery_date",
	"date_to":        "delivery_date",
	"search":         "doc_number",
}

func (s *SQLStore) List(ctx context.Context, req ListRequest) ([]Note, int, error) {
	b := filter.New(listColumns).
		WhereIf(req.SalesOrderID != nil, "sales_order_id", filter.Eq, deref(req.SalesOrderID)).
		WhereIf(req.WarehouseID != nil, "warehouse_id", filter.Eq, deref(req.WarehouseID)).
		WhereIf(req.Status != nil, "status", filter.Eq, statusValue(req.Status)).
		WhereIf(req.DateFrom != nil, "date_from", filter.Gte, req.DateFrom).
		WhereIf(req.DateTo != nil, "date_to", filter.Lte, req.DateTo).
		WhereIf(req.Search != "", "search", filter.ILike, req.Search)
	clause, args, next, err := b.Compile(2)
	if err != nil {
		return nil, 0, err
	}
	where := "company_id = $1"
	if clause != "" {
		where += " AND " + clause
	}
	args = append([]any{req.CompanyID}, args...)
	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_notes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := filter.Page(req.Limit, req.Offset)
	rows, err := s.q.Query(ctx, fmt.Sprintf(`SELECT %s FROM delivery_notes WHERE %s
ORDER BY delivery_date DESC, id DESC LIMIT $%d OFFSET $%d`, noteColumns, where, next, next+1), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) Insert(ctx context.Context, n Note) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO delivery_notes
(doc_number, company_id, sales_order_id, customer_id, warehouse_id, delivery_date, status, inventory_posted,
 driver_name, vehicle_number, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9, $10, $11, $12, $13)
RETURNING id`,
		n.DocNumber, n.CompanyID, n.SalesOrderID, n.CustomerID, n.WarehouseID, n.DeliveryDate, string(n.Status),
		n.DriverName, n.VehicleNumber, n.Notes, n.CreatedBy, n.CreatedAt, n.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, db.TranslateError(err, "delivery_note", nil)
	}
	return id, nil
}

func (s *SQLStore) InsertLines(ctx context.Context, noteID int64, lines []Line) ([]Line, error) {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO delivery_note_items
(delivery_note_id, sales_order_item_id, item_id, uom_id, delivered_qty, unit_price, batch_number, serial_numbers, line_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`, noteID, l.SalesOrderItemID, l.ItemID, l.UOMID, l.DeliveredQty, l.UnitPrice, l.BatchNumber, l.SerialNumbers, l.LineOrder)
	}
	br := s.q.SendBatch(ctx, batch)
	defer br.Close()
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if err := br.QueryRow().Scan(&l.ID); err != nil {
			return nil, db.TranslateError(err, "delivery_note item", nil)
		}
		l.DeliveryNoteID = noteID
		out = append(out, l)
	}
	return out, nil
}

// Update writes status and workflow columns. inventory_posted only moves from FALSE to TRUE.
func (s *SQLStore) Update(ctx context.Context, n Note) error {
	_, err := s.q.Exec(ctx, `UPDATE delivery_notes SET
status = $3, inventory_posted = inventory_posted OR $4, inventory_posted_by = $5, inventory_posted_at = $6,
driver_name = $7, vehicle_number = $8, tracking_number = $9, dispatched_by = $10, dispatched_at = $11,
received_by = $12, delivered_at = $13, confirmed_by = $14, cancelled_by = $15, cancelled_at = $16,
cancellation_reason = $17, updated_at = $18
WHERE id = $1 AND company_id = $2`,
		n.ID, n.CompanyID, string(n.Status), n.InventoryPosted, n.InventoryPostedBy, n.InventoryPostedAt,
		n.DriverName, n.VehicleNumber, n.TrackingNumber, n.DispatchedBy, n.DispatchedAt,
		n.ReceivedBy, n.DeliveredAt, n.ConfirmedBy, n.CancelledBy, n.CancelledAt,
		n.CancellationReason, n.UpdatedAt)
	return db.TranslateError(err, "delivery_note", n.ID)
}

// OpenQuantities sums quantities per order line on notes that are not yet delivered or cancelled.
func (s *SQLStore) OpenQuantities(ctx context.Context, orderID int64) (map[int64]float64, error) {
	rows, err := s.q.Query(ctx, `SELECT i.sales_order_item_id, SUM(i.delivered_qty)
FROM delivery_note_items i
JOIN delivery_notes n ON n.id = i.delivery_note_id
WHERE n.sales_order_id = $1 AND n.status IN ('DRAFT', 'READY', 'DISPATCHED')
GROUP BY i.sales_order_item_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]float64)
	for rows.Next() {
		var lineID int64
		var qty float64
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		out[lineID] = qty
	}
	return out, rows.Err()
}

func (s *SQLStore) ItemBaseUOM(ctx context.Context, companyID, itemID int64) (int64, error) {
	var uom int64
	err := s.q.QueryRow(ctx, `SELECT base_uom_id FROM items WHERE company_id = $1 AND id = $2`, companyID, itemID).Scan(&uom)
	if err != nil {
		return 0, db.TranslateError(err, "item", itemID)
	}
	return uom, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func statusValue(v *Status) string {
	if v == nil {
		return ""
	}
	return string(*v)
}
