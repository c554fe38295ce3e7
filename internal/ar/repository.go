package ar

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/filter"
	"github.com/odyssey-erp/backoffice/internal/sales"
)

// PostgresRepository provides PostgreSQL backed persistence for sales invoices.
type PostgresRepository struct {
	pool *pgxpool.Pool
	*SQLStore
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, SQLStore: NewSQLStore(pool)}
}

// SQLStore runs invoice statements on a pool or on a caller's transaction.
type SQLStore struct {
	q db.DBTX
}

// NewSQLStore binds a store to q.
func NewSQLStore(q db.DBTX) *SQLStore {
	return &SQLStore{q: q}
}

type txStore struct {
	*SQLStore
	*numbering.SQLSequencer
	tx pgx.Tx
}

func (t *txStore) Ledger() ledger.Store                 { return ledger.NewSQLStore(t.tx) }
func (t *txStore) Sales() SalesStore                    { return sales.NewSQLStore(t.tx) }
func (t *txStore) DeliveryNotes() NoteStore             { return delivery.NewSQLStore(t.tx) }
func (t *txStore) References() inventory.ReferenceStore { return inventory.NewSQLStore(t.tx) }

// WithTx wraps callback in a read-committed transaction; the invoice row is locked by
// GetForUpdate before any posting.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{SQLStore: NewSQLStore(tx), SQLSequencer: numbering.NewSQLSequencer(tx), tx: tx})
	})
}

// ============================================================================
// INVOICES
// ============================================================================

const invoiceColumns = `id, doc_number, company_id, customer_id, sales_order_id, delivery_note_id, invoice_date, due_date,
status, currency, exchange_rate, header_discount_percent, header_discount_amount, header_tax_amount, freight,
subtotal, discount_amount, tax_amount, freight_amount, total_amount, paid_amount, approval_status, approval_request_id,
journal_entry_id, void_journal_entry_id, notes, created_by, posted_by, posted_at, voided_by, voided_at, void_reason,
created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var i Invoice
	var status string
	err := row.Scan(&i.ID, &i.DocNumber, &i.CompanyID, &i.CustomerID, &i.SalesOrderID, &i.DeliveryNoteID, &i.InvoiceDate, &i.DueDate,
		&status, &i.Currency, &i.ExchangeRate, &i.HeaderDiscountPercent, &i.HeaderDiscountAmount, &i.HeaderTaxAmount, &i.Freight,
		&i.Subtotal, &i.DiscountAmount, &i.TaxAmount, &i.FreightAmount, &i.TotalAmount, &i.PaidAmount, &i.ApprovalStatus, &i.ApprovalRequestID,
		&i.JournalEntryID, &i.VoidJournalEntryID, &i.Notes, &i.CreatedBy, &i.PostedBy, &i.PostedAt, &i.VoidedBy, &i.VoidedAt, &i.VoidReason,
		&i.CreatedAt, &i.UpdatedAt)
	i.Status = InvoiceStatus(status)
	return i, err
}

const invoiceLineColumns = `id, sales_invoice_id, sales_order_item_id, delivery_note_item_id, item_id, uom_id, description,
quantity, unit_price, price_source, price_list_id, discount_percent, discount_amount, tax_percent, tax_amount, line_total, line_order`

// Get loads an invoice with its lines.
func (s *SQLStore) Get(ctx context.Context, companyID, id int64) (Invoice, error) {
	return s.get(ctx, companyID, id, "")
}

// GetForUpdate locks the invoice row.
func (s *SQLStore) GetForUpdate(ctx context.Context, companyID, id int64) (Invoice, error) {
	return s.get(ctx, companyID, id, " FOR UPDATE")
}

func (s *SQLStore) get(ctx context.Context, companyID, id int64, lock string) (Invoice, error) {
	inv, err := scanInvoice(s.q.QueryRow(ctx, `SELECT `+invoiceColumns+`
FROM sales_invoices WHERE company_id = $1 AND id = $2`+lock, companyID, id))
	if err != nil {
		return Invoice{}, db.TranslateError(err, "sales_invoice", id)
	}
	rows, err := s.q.Query(ctx, `SELECT `+invoiceLineColumns+`
FROM sales_invoice_items WHERE sales_invoice_id = $1 ORDER BY line_order, id`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.SalesOrderItemID, &l.DeliveryNoteItemID, &l.ItemID, &l.UOMID, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.PriceSource, &l.PriceListID, &l.DiscountPercent, &l.DiscountAmount, &l.TaxPercent,
			&l.TaxAmount, &l.LineTotal, &l.LineOrder); err != nil {
			return Invoice{}, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}

var listColumns = filter.Columns{
	"customer_id": "customer_id",
	"status":      "status",
	"date_from":   "invoice_date",
	"date_to":     "invoice_date",
	"search":      "doc_number",
}

// List lists invoice headers newest first.
func (s *SQLStore) List(ctx context.Context, req ListRequest) ([]Invoice, int, error) {
	b := filter.New(listColumns).
		WhereIf(req.CustomerID != nil, "customer_id", filter.Eq, req.CustomerID).
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
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM sales_invoices WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := filter.Page(req.Limit, req.Offset)
	out, err := s.queryInvoices(ctx, fmt.Sprintf(`SELECT %s FROM sales_invoices WHERE %s
ORDER BY invoice_date DESC, id DESC LIMIT $%d OFFSET $%d`, invoiceColumns, where, next, next+1), append(args, limit, offset)...)
	return out, total, err
}

// ListOutstanding lists payable invoices with an open balance, oldest due first.
func (s *SQLStore) ListOutstanding(ctx context.Context, companyID int64, customerID *int64) ([]Invoice, error) {
	return s.queryInvoices(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices
WHERE company_id = $1 AND ($2::bigint IS NULL OR customer_id = $2)
  AND status IN ('POSTED', 'PARTIALLY_PAID') AND total_amount > paid_amount
ORDER BY due_date, id`, companyID, customerID)
}

func (s *SQLStore) queryInvoices(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Insert stores the header and returns its id.
func (s *SQLStore) Insert(ctx context.Context, i Invoice) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO sales_invoices
(doc_number, company_id, customer_id, sales_order_id, delivery_note_id, invoice_date, due_date, status, currency, exchange_rate,
 header_discount_percent, header_discount_amount, header_tax_amount, freight,
 subtotal, discount_amount, tax_amount, freight_amount, total_amount, paid_amount, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, 0, $20, $21, $22, $23)
RETURNING id`,
		i.DocNumber, i.CompanyID, i.CustomerID, i.SalesOrderID, i.DeliveryNoteID, i.InvoiceDate, i.DueDate, string(i.Status), i.Currency, i.ExchangeRate,
		i.HeaderDiscountPercent, i.HeaderDiscountAmount, i.HeaderTaxAmount, i.Freight,
		i.Subtotal, i.DiscountAmount, i.TaxAmount, i.FreightAmount, i.TotalAmount, i.Notes, i.CreatedBy, i.CreatedAt, i.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, db.TranslateError(err, "sales_invoice", nil)
	}
	return id, nil
}

// InsertLines batch-inserts lines and returns them with their ids.
func (s *SQLStore) InsertLines(ctx context.Context, invoiceID int64, lines []Line) ([]Line, error) {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO sales_invoice_items
(sales_invoice_id, sales_order_item_id, delivery_note_item_id, item_id, uom_id, description, quantity, unit_price, price_source,
 price_list_id, discount_percent, discount_amount, tax_percent, tax_amount, line_total, line_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING id`,
			invoiceID, l.SalesOrderItemID, l.DeliveryNoteItemID, l.ItemID, l.UOMID, l.Description, l.Quantity, l.UnitPrice, l.PriceSource,
			l.PriceListID, l.DiscountPercent, l.DiscountAmount, l.TaxPercent, l.TaxAmount, l.LineTotal, l.LineOrder)
	}
	br := s.q.SendBatch(ctx, batch)
	defer br.Close()
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if err := br.QueryRow().Scan(&l.ID); err != nil {
			return nil, db.TranslateError(err, "sales_invoice item", nil)
		}
		l.InvoiceID = invoiceID
		out = append(out, l)
	}
	return out, nil
}

// Update writes the workflow and balance columns. approval_status and approval_request_id
// are owned by the approval workflow and only filled in when still empty.
func (s *SQLStore) Update(ctx context.Context, i Invoice) error {
	_, err := s.q.Exec(ctx, `UPDATE sales_invoices SET
status = $3, paid_amount = $4, approval_status = COALESCE(approval_status, $5), journal_entry_id = $6,
void_journal_entry_id = $7, posted_by = $8, posted_at = $9, voided_by = $10, voided_at = $11, void_reason = $12, updated_at = $13
WHERE id = $1 AND company_id = $2`,
		i.ID, i.CompanyID, string(i.Status), i.PaidAmount, i.ApprovalStatus, i.JournalEntryID,
		i.VoidJournalEntryID, i.PostedBy, i.PostedAt, i.VoidedBy, i.VoidedAt, i.VoidReason, i.UpdatedAt)
	return db.TranslateError(err, "sales_invoice", i.ID)
}

// HasActiveForDeliveryNote reports whether a non-void invoice references the note.
func (s *SQLStore) HasActiveForDeliveryNote(ctx context.Context, companyID, noteID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM sales_invoices WHERE company_id = $1 AND delivery_note_id = $2 AND status <> 'VOID'
)`, companyID, noteID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ar: invoice for delivery note: %w", err)
	}
	return exists, nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

// InsertPayment stores a payment and returns its id.
func (s *SQLStore) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO invoice_payments
(doc_number, company_id, sales_invoice_id, payment_date, amount, method, reference, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`, p.DocNumber, p.CompanyID, p.InvoiceID, p.PaymentDate, p.Amount, p.Method, p.Reference, p.CreatedBy, p.CreatedAt).Scan(&id)
	if err != nil {
		return 0, db.TranslateError(err, "invoice_payment", nil)
	}
	return id, nil
}

// SetPaymentJournal links the payment to its journal entry.
func (s *SQLStore) SetPaymentJournal(ctx context.Context, paymentID, entryID int64) error {
	_, err := s.q.Exec(ctx, `UPDATE invoice_payments SET journal_entry_id = $2 WHERE id = $1`, paymentID, entryID)
	return db.TranslateError(err, "invoice_payment", paymentID)
}

// CountPayments counts the payments of an invoice.
func (s *SQLStore) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_payments WHERE sales_invoice_id = $1`, invoiceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ar: count payments: %w", err)
	}
	return n, nil
}

// ListPayments lists the payments of an invoice in the order they were recorded.
func (s *SQLStore) ListPayments(ctx context.Context, companyID, invoiceID int64) ([]Payment, error) {
	rows, err := s.q.Query(ctx, `SELECT id, doc_number, company_id, sales_invoice_id, payment_date, amount, method, reference,
journal_entry_id, created_by, created_at
FROM invoice_payments WHERE company_id = $1 AND sales_invoice_id = $2 ORDER BY payment_date, id`, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.DocNumber, &p.CompanyID, &p.InvoiceID, &p.PaymentDate, &p.Amount, &p.Method, &p.Reference,
			&p.JournalEntryID, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func statusValue(v *InvoiceStatus) string {
	if v == nil {
		return ""
	}
	return string(*v)
}
