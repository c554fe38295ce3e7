package sales

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
)

// PostgresRepository persists quotations and orders in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	*SQLStore
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, SQLStore: NewSQLStore(pool)}
}

type txStore struct {
	*SQLStore
	*numbering.SQLSequencer
	inv *inventory.SQLStore
}

func (t *txStore) InsertReservation(ctx context.Context, r inventory.Reservation) (int64, error) {
	return t.inv.InsertReservation(ctx, r)
}

func (t *txStore) ReleaseReservations(ctx context.Context, companyID int64, sourceType string, sourceID int64, at time.Time) (int64, error) {
	return t.inv.ReleaseReservations(ctx, companyID, sourceType, sourceID, at)
}

func (t *txStore) ItemExists(ctx context.Context, companyID, id int64) (bool, error) {
	return t.inv.ItemExists(ctx, companyID, id)
}

func (t *txStore) WarehouseExists(ctx context.Context, companyID, id int64) (bool, error) {
	return t.inv.WarehouseExists(ctx, companyID, id)
}

// WithTx runs fn inside one transaction shared by the sales, numbering and inventory stores.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{
			SQLStore:     NewSQLStore(tx),
			SQLSequencer: numbering.NewSQLSequencer(tx),
			inv:          inventory.NewSQLStore(tx),
		})
	})
}

// SQLStore runs sales statements on a pool or on a caller's transaction.
type SQLStore struct {
	q db.DBTX
}

// NewSQLStore binds a store to q.
func NewSQLStore(q db.DBTX) *SQLStore {
	return &SQLStore{q: q}
}

// ============================================================================
// CUSTOMERS
// ============================================================================

// GetCustomer loads a live customer of the company.
func (s *SQLStore) GetCustomer(ctx context.Context, companyID, id int64) (Customer, error) {
	var c Customer
	err := s.q.QueryRow(ctx, `SELECT id, company_id, code, name, credit_limit, is_active
FROM customers WHERE company_id = $1 AND id = $2 AND deleted_at IS NULL`, companyID, id).
		Scan(&c.ID, &c.CompanyID, &c.Code, &c.Name, &c.CreditLimit, &c.IsActive)
	if err != nil {
		return Customer{}, db.TranslateError(err, "customer", id)
	}
	return c, nil
}

// CustomerExposure sums open order totals and unpaid posted invoice balances.
func (s *SQLStore) CustomerExposure(ctx context.Context, companyID, customerID int64) (float64, error) {
	var exposure float64
	err := s.q.QueryRow(ctx, `SELECT
	COALESCE((SELECT SUM(total_amount) FROM sales_orders
		WHERE company_id = $1 AND customer_id = $2 AND status IN ('APPROVED', 'CONFIRMED', 'PARTIALLY_DELIVERED')), 0)
	+ COALESCE((SELECT SUM(total_amount - paid_amount) FROM sales_invoices
		WHERE company_id = $1 AND customer_id = $2 AND status IN ('POSTED', 'PARTIALLY_PAID')), 0)`,
		companyID, customerID).Scan(&exposure)
	if err != nil {
		return 0, fmt.Errorf("sales: customer exposure: %w", err)
	}
	return exposure, nil
}

// ============================================================================
// LINES
// ============================================================================

const lineColumns = `id, item_id, uom_id, description, quantity, unit_price, price_source, price_list_id,
discount_percent, discount_amount, tax_percent, tax_amount, line_total, line_order`

func lineDest(l *Line) []any {
	return []any{&l.ID, &l.ItemID, &l.UOMID, &l.Description, &l.Quantity, &l.UnitPrice, &l.PriceSource, &l.PriceListID,
		&l.DiscountPercent, &l.DiscountAmount, &l.TaxPercent, &l.TaxAmount, &l.LineTotal, &l.LineOrder}
}

func lineArgs(l Line) []any {
	return []any{l.ItemID, l.UOMID, l.Description, l.Quantity, l.UnitPrice, l.PriceSource, l.PriceListID,
		l.DiscountPercent, l.DiscountAmount, l.TaxPercent, l.TaxAmount, l.LineTotal, l.LineOrder}
}

// ============================================================================
// QUOTATIONS
// ============================================================================

const quotationColumns = `id, doc_number, company_id, customer_id, prospect_name, quote_date, valid_until, status,
currency, exchange_rate, price_list_id, header_discount_percent, header_discount_amount, header_tax_amount, freight,
subtotal, discount_amount, tax_amount, freight_amount, total_amount, notes, created_by, sent_at,
accepted_by, accepted_at, rejected_by, rejected_at, rejection_reason, converted_to_order_id, created_at, updated_at`

func scanQuotation(row pgx.Row) (Quotation, error) {
	var q Quotation
	var status string
	err := row.Scan(&q.ID, &q.DocNumber, &q.CompanyID, &q.CustomerID, &q.ProspectName, &q.QuoteDate, &q.ValidUntil, &status,
		&q.Currency, &q.ExchangeRate, &q.PriceListID, &q.HeaderDiscountPercent, &q.HeaderDiscountAmount, &q.HeaderTaxAmount, &q.Freight,
		&q.Subtotal, &q.DiscountAmount, &q.TaxAmount, &q.FreightAmount, &q.TotalAmount, &q.Notes, &q.CreatedBy, &q.SentAt,
		&q.AcceptedBy, &q.AcceptedAt, &q.RejectedBy, &q.RejectedAt, &q.RejectionReason, &q.ConvertedToOrderID, &q.CreatedAt, &q.UpdatedAt)
	q.Status = QuotationStatus(status)
	return q, err
}

// GetQuotation loads a quotation with its lines.
func (s *SQLStore) GetQuotation(ctx context.Context, companyID, id int64) (Quotation, error) {
	return s.getQuotation(ctx, companyID, id, "")
}

// GetQuotationForUpdate locks the quotation row.
func (s *SQLStore) GetQuotationForUpdate(ctx context.Context, companyID, id int64) (Quotation, error) {
	return s.getQuotation(ctx, companyID, id, " FOR UPDATE")
}

func (s *SQLStore) getQuotation(ctx context.Context, companyID, id int64, lock string) (Quotation, error) {
	q, err := scanQuotation(s.q.QueryRow(ctx, `SELECT `+quotationColumns+`
FROM quotations WHERE company_id = $1 AND id = $2`+lock, companyID, id))
	if err != nil {
		return Quotation{}, db.TranslateError(err, "quotation", id)
	}
	rows, err := s.q.Query(ctx, `SELECT `+lineColumns+` FROM quotation_items WHERE quotation_id = $1 ORDER BY line_order, id`, id)
	if err != nil {
		return Quotation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(lineDest(&l)...); err != nil {
			return Quotation{}, err
		}
		q.Lines = append(q.Lines, l)
	}
	return q, rows.Err()
}

var quotationListColumns = filter.Columns{
	"customer_id": "customer_id",
	"status":      "status",
	"date_from":   "quote_date",
	"date_to":     "quote_date",
	"search":      "doc_number",
}

// ListQuotations lists quotation headers newest first.
func (s *SQLStore) ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	b := filter.New(quotationListColumns).
		WhereIf(req.CustomerID != nil, "customer_id", filter.Eq, derefID(req.CustomerID)).
		WhereIf(req.Status != nil, "status", filter.Eq, derefStatus(req.Status)).
		WhereIf(req.DateFrom != nil, "date_from", filter.Gte, derefTime(req.DateFrom)).
		WhereIf(req.DateTo != nil, "date_to", filter.Lte, derefTime(req.DateTo)).
		WhereIf(req.Search != "", "search", filter.ILike, req.Search)
	return listDocuments(ctx, s.q, "quotations", quotationColumns, "quote_date", req.CompanyID, b, req.Limit, req.Offset, scanQuotation)
}

// InsertQuotation stores the header and returns its id.
func (s *SQLStore) InsertQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO quotations
(doc_number, company_id, customer_id, prospect_name, quote_date, valid_until, status, currency, exchange_rate, price_list_id,
 header_discount_percent, header_discount_amount, header_tax_amount, freight,
 subtotal, discount_amount, tax_amount, freight_amount, total_amount, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
RETURNING id`,
		q.DocNumber, q.CompanyID, q.CustomerID, q.ProspectName, q.QuoteDate, q.ValidUntil, string(q.Status), q.Currency, q.ExchangeRate, q.PriceListID,
		q.HeaderDiscountPercent, q.HeaderDiscountAmount, q.HeaderTaxAmount, q.Freight,
		q.Subtotal, q.DiscountAmount, q.TaxAmount, q.FreightAmount, q.TotalAmount, q.Notes, q.CreatedBy, q.CreatedAt, q.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, db.TranslateError(err, "quotation", nil)
	}
	return id, nil
}

// UpdateQuotation writes every mutable column of the header.
func (s *SQLStore) UpdateQuotation(ctx context.Context, q Quotation) error {
	_, err := s.q.Exec(ctx, `UPDATE quotations SET
customer_id = $3, prospect_name = $4, quote_date = $5, valid_until = $6, status = $7, currency = $8, exchange_rate = $9,
price_list_id = $10, header_discount_percent = $11, header_discount_amount = $12, header_tax_amount = $13, freight = $14,
subtotal = $15, discount_amount = $16, tax_amount = $17, freight_amount = $18, total_amount = $19, notes = $20,
sent_at = $21, accepted_by = $22, accepted_at = $23, rejected_by = $24, rejected_at = $25, rejection_reason = $26,
converted_to_order_id = $27, updated_at = $28
WHERE id = $1 AND company_id = $2`,
		q.ID, q.CompanyID, q.CustomerID, q.ProspectName, q.QuoteDate, q.ValidUntil, string(q.Status), q.Currency, q.ExchangeRate,
		q.PriceListID, q.HeaderDiscountPercent, q.HeaderDiscountAmount, q.HeaderTaxAmount, q.Freight,
		q.Subtotal, q.DiscountAmount, q.TaxAmount, q.FreightAmount, q.TotalAmount, q.Notes,
		q.SentAt, q.AcceptedBy, q.AcceptedAt, q.RejectedBy, q.RejectedAt, q.RejectionReason,
		q.ConvertedToOrderID, q.UpdatedAt)
	return db.TranslateError(err, "quotation", q.ID)
}

// ReplaceQuotationLines deletes and re-inserts the lines of a quotation.
func (s *SQLStore) ReplaceQuotationLines(ctx context.Context, quotationID int64, lines []Line) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM quotation_items WHERE quotation_id = $1`, quotationID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO quotation_items (quotation_id, item_id, uom_id, description, quantity, unit_price, price_source,
price_list_id, discount_percent, discount_amount, tax_percent, tax_amount, line_total, line_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`, append([]any{quotationID}, lineArgs(l)...)...)
	}
	br := s.q.SendBatch(ctx, batch)
	defer br.Close()
	for range lines {
		if _, err := br.Exec(); err != nil {
			return db.TranslateError(err, "quotation item", nil)
		}
	}
	return nil
}

// ============================================================================
// SALES ORDERS
// ============================================================================

const orderColumns = `id, doc_number, company_id, customer_id, quotation_id, warehouse_id, order_date, expected_delivery_date,
status, currency, exchange_rate, price_list_id, header_discount_percent, header_discount_amount, header_tax_amount, freight,
subtotal, discount_amount, tax_amount, freight_amount, total_amount, credit_status, credit_limit, credit_exposure, notes,
created_by, approved_by, approved_at, override_reason, confirmed_by, confirmed_at, cancelled_by, cancelled_at,
cancellation_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (SalesOrder, error) {
	var o SalesOrder
	var status, credit string
	err := row.Scan(&o.ID, &o.DocNumber, &o.CompanyID, &o.CustomerID, &o.QuotationID, &o.WarehouseID, &o.OrderDate, &o.ExpectedDeliveryDate,
		&status, &o.Currency, &o.ExchangeRate, &o.PriceListID, &o.HeaderDiscountPercent, &o.HeaderDiscountAmount, &o.HeaderTaxAmount, &o.Freight,
		&o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.FreightAmount, &o.TotalAmount, &credit, &o.Credit.Limit, &o.Credit.Exposure, &o.Notes,
		&o.CreatedBy, &o.ApprovedBy, &o.ApprovedAt, &o.OverrideReason, &o.ConfirmedBy, &o.ConfirmedAt, &o.CancelledBy, &o.CancelledAt,
		&o.CancellationReason, &o.CreatedAt, &o.UpdatedAt)
	o.Status = SalesOrderStatus(status)
	o.Credit.Status = CreditStatus(credit)
	return o, err
}

// GetOrder loads an order with its lines.
func (s *SQLStore) GetOrder(ctx context.Context, companyID, id int64) (SalesOrder, error) {
	return s.getOrder(ctx, companyID, id, "")
}

// GetOrderForUpdate locks the order header and its lines.
func (s *SQLStore) GetOrderForUpdate(ctx context.Context, companyID, id int64) (SalesOrder, error) {
	return s.getOrder(ctx, companyID, id, " FOR UPDATE")
}

func (s *SQLStore) getOrder(ctx context.Context, companyID, id int64, lock string) (SalesOrder, error) {
	o, err := scanOrder(s.q.QueryRow(ctx, `SELECT `+orderColumns+`
FROM sales_orders WHERE company_id = $1 AND id = $2`+lock, companyID, id))
	if err != nil {
		return SalesOrder{}, db.TranslateError(err, "sales_order", id)
	}
	rows, err := s.q.Query(ctx, `SELECT `+lineColumns+`, sales_order_id, delivered_qty, invoiced_qty
FROM sales_order_items WHERE sales_order_id = $1 ORDER BY line_order, id`+lock, id)
	if err != nil {
		return SalesOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(append(lineDest(&l.Line), &l.OrderID, &l.DeliveredQty, &l.InvoicedQty)...); err != nil {
			return SalesOrder{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

var orderListColumns = filter.Columns{
	"customer_id": "customer_id",
	"status":      "status",
	"date_from":   "order_date",
	"date_to":     "order_date",
	"search":      "doc_number",
}

// ListOrders lists order headers newest first.
func (s *SQLStore) ListOrders(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrder, int, error) {
	b := filter.New(orderListColumns).
		WhereIf(req.CustomerID != nil, "customer_id", filter.Eq, derefID(req.CustomerID)).
		WhereIf(req.Status != nil, "status", filter.Eq, derefStatus(req.Status)).
		WhereIf(req.DateFrom != nil, "date_from", filter.Gte, derefTime(req.DateFrom)).
		WhereIf(req.DateTo != nil, "date_to", filter.Lte, derefTime(req.DateTo)).
		WhereIf(req.Search != "", "search", filter.ILike, req.Search)
	return listDocuments(ctx, s.q, "sales_orders", orderColumns, "order_date", req.CompanyID, b, req.Limit, req.Offset, scanOrder)
}

// InsertOrder stores the header and returns its id.
func (s *SQLStore) InsertOrder(ctx context.Context, o SalesOrder) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO sales_orders
(doc_number, company_id, customer_id, quotation_id, warehouse_id, order_date, expected_delivery_date, status, currency,
 exchange_rate, price_list_id, header_discount_percent, header_discount_amount, header_tax_amount, freight,
 subtotal, discount_amount, tax_amount, freight_amount, total_amount, credit_status, credit_limit, credit_exposure,
 notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
RETURNING id`,
		o.DocNumber, o.CompanyID, o.CustomerID, o.QuotationID, o.WarehouseID, o.OrderDate, o.ExpectedDeliveryDate, string(o.Status), o.Currency,
		o.ExchangeRate, o.PriceListID, o.HeaderDiscountPercent, o.HeaderDiscountAmount, o.HeaderTaxAmount, o.Freight,
		o.Subtotal, o.DiscountAmount, o.TaxAmount, o.FreightAmount, o.TotalAmount, string(o.Credit.Status), o.Credit.Limit, o.Credit.Exposure,
		o.Notes, o.CreatedBy, o.CreatedAt, o.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, db.TranslateError(err, "sales_order", nil)
	}
	return id, nil
}

// InsertOrderLines stores lines and returns them with their ids.
func (s *SQLStore) InsertOrderLines(ctx context.Context, orderID int64, lines []OrderLine) ([]OrderLine, error) {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO sales_order_items (sales_order_id, item_id, uom_id, description, quantity, unit_price, price_source,
price_list_id, discount_percent, discount_amount, tax_percent, tax_amount, line_total, line_order, delivered_qty, invoiced_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, 0)
RETURNING id`, append([]any{orderID}, lineArgs(l.Line)...)...)
	}
	br := s.q.SendBatch(ctx, batch)
	defer br.Close()
	out := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		if err := br.QueryRow().Scan(&l.ID); err != nil {
			return nil, db.TranslateError(err, "sales_order item", nil)
		}
		l.OrderID = orderID
		out = append(out, l)
	}
	return out, nil
}

// UpdateOrder writes status and decision columns of the header.
func (s *SQLStore) UpdateOrder(ctx context.Context, o SalesOrder) error {
	_, err := s.q.Exec(ctx, `UPDATE sales_orders SET
status = $3, approved_by = $4, approved_at = $5, override_reason = $6, confirmed_by = $7, confirmed_at = $8,
cancelled_by = $9, cancelled_at = $10, cancellation_reason = $11, updated_at = $12
WHERE id = $1 AND company_id = $2`,
		o.ID, o.CompanyID, string(o.Status), o.ApprovedBy, o.ApprovedAt, o.OverrideReason, o.ConfirmedBy, o.ConfirmedAt,
		o.CancelledBy, o.CancelledAt, o.CancellationReason, o.UpdatedAt)
	return db.TranslateError(err, "sales_order", o.ID)
}

// AddDeliveredQty advances the delivery progress of an order line.
func (s *SQLStore) AddDeliveredQty(ctx context.Context, orderID, lineID int64, qty float64) error {
	return s.addProgress(ctx, "delivered_qty", orderID, lineID, qty)
}

// AddInvoicedQty advances the invoicing progress of an order line.
func (s *SQLStore) AddInvoicedQty(ctx context.Context, orderID, lineID int64, qty float64) error {
	return s.addProgress(ctx, "invoiced_qty", orderID, lineID, qty)
}

func (s *SQLStore) addProgress(ctx context.Context, column string, orderID, lineID int64, qty float64) error {
	tag, err := s.q.Exec(ctx, fmt.Sprintf(`UPDATE sales_order_items SET %[1]s = %[1]s + $3 WHERE id = $2 AND sales_order_id = $1`, column),
		orderID, lineID, qty)
	if err != nil {
		return db.TranslateError(err, "sales_order item", lineID)
	}
	if tag.RowsAffected() == 0 {
		return db.TranslateError(pgx.ErrNoRows, "sales_order item", lineID)
	}
	return nil
}

// OpenDeliveryNotes lists the numbers of DRAFT, READY or DISPATCHED notes of an order.
func (s *SQLStore) OpenDeliveryNotes(ctx context.Context, companyID, orderID int64) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT doc_number FROM delivery_notes
WHERE company_id = $1 AND sales_order_id = $2 AND status IN ('DRAFT', 'READY', 'DISPATCHED')
ORDER BY id`, companyID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		out = append(out, number)
	}
	return out, rows.Err()
}

// SetOrderStatus moves an order to status.
func (s *SQLStore) SetOrderStatus(ctx context.Context, orderID int64, status SalesOrderStatus, at time.Time) error {
	_, err := s.q.Exec(ctx, `UPDATE sales_orders SET status = $2, updated_at = $3 WHERE id = $1`, orderID, string(status), at)
	return db.TranslateError(err, "sales_order", orderID)
}

// ============================================================================
// HELPERS
// ============================================================================

func listDocuments[T any](ctx context.Context, q db.DBTX, table, columns, dateColumn string, companyID int64, b *filter.Builder, limit, offset int, scan func(pgx.Row) (T, error)) ([]T, int, error) {
	clause, args, next, err := b.Compile(2)
	if err != nil {
		return nil, 0, err
	}
	where := "company_id = $1"
	if clause != "" {
		where += " AND " + clause
	}
	args = append([]any{companyID}, args...)
	var total int
	if err := q.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset = filter.Page(limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY %s DESC, id DESC LIMIT $%d OFFSET $%d`,
		columns, table, where, dateColumn, next, next+1), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		doc, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, doc)
	}
	return out, total, rows.Err()
}

func derefID(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefTime(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return *v
}

func derefStatus[S ~string](v *S) string {
	if v == nil {
		return ""
	}
	return string(*v)
}
