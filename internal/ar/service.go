package ar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/backoffice/internal/approval"
	"github.com/odyssey-erp/backoffice/internal/delivery"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository provides persistence for sales invoices.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Invoice, error)
	List(ctx context.Context, req ListRequest) ([]Invoice, int, error)
	ListPayments(ctx context.Context, companyID, invoiceID int64) ([]Payment, error)
	ListOutstanding(ctx context.Context, companyID int64, customerID *int64) ([]Invoice, error)
}

// SalesStore is the part of the sales store an invoice reads and advances.
type SalesStore interface {
	GetCustomer(ctx context.Context, companyID, id int64) (sales.Customer, error)
	GetOrderForUpdate(ctx context.Context, companyID, id int64) (sales.SalesOrder, error)
	AddInvoicedQty(ctx context.Context, orderID, lineID int64, qty float64) error
}

// NoteStore locks the delivery note an invoice is generated from.
type NoteStore interface {
	GetForUpdate(ctx context.Context, companyID, id int64) (delivery.Note, error)
}

// TxRepository exposes the invoice writes and the stores an invoice posts into, all bound to
// one transaction.
type TxRepository interface {
	numbering.Sequencer

	Insert(ctx context.Context, inv Invoice) (int64, error)
	InsertLines(ctx context.Context, invoiceID int64, lines []Line) ([]Line, error)
	GetForUpdate(ctx context.Context, companyID, id int64) (Invoice, error)
	Update(ctx context.Context, inv Invoice) error
	HasActiveForDeliveryNote(ctx context.Context, companyID, noteID int64) (bool, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	SetPaymentJournal(ctx context.Context, paymentID, entryID int64) error
	CountPayments(ctx context.Context, invoiceID int64) (int, error)

	Ledger() ledger.Store
	Sales() SalesStore
	References() inventory.ReferenceStore
	DeliveryNotes() NoteStore
}

// ApprovalGate decides whether an invoice may post; *approval.Service satisfies it.
type ApprovalGate interface {
	CheckNeedsApproval(ctx context.Context, companyID int64, module string, amount float64) (approval.Decision, error)
	CreateApprovalRequest(ctx context.Context, in approval.CreateRequestInput) (approval.Request, bool, error)
}

// AuditPort records business events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics counts document lifecycle events.
type Metrics interface {
	DocumentEvent(document, event string)
}

// Deps groups the collaborators of Service. Approvals, Audit and Metrics are optional.
type Deps struct {
	Repo      Repository
	Prices    sales.PriceSource
	Approvals ApprovalGate
	Numbers   *numbering.Generator
	Poster    *ledger.Poster
	Audit     AuditPort
	Metrics   Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Service handles sales invoice business logic.
type Service struct {
	repo      Repository
	prices    sales.PriceSource
	approvals ApprovalGate
	gen       *numbering.Generator
	poster    *ledger.Poster
	audit     AuditPort
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Numbers == nil {
		d.Numbers = numbering.NewGenerator(nil)
	}
	if d.Poster == nil {
		d.Poster = ledger.NewPoster(d.Numbers)
		d.Poster.WithNow(d.Clock)
	}
	return &Service{
		repo:      d.Repo,
		prices:    d.Prices,
		approvals: d.Approvals,
		gen:       d.Numbers,
		poster:    d.Poster,
		audit:     d.Audit,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Clock,
	}
}

// ============================================================================
// CREATE
// ============================================================================

// CreateInvoice creates a standalone DRAFT invoice. Lines without a unit price are priced
// through the price resolver.
func (s *Service) CreateInvoice(ctx context.Context, who shared.Identity, req CreateInvoiceRequest) (Invoice, error) {
	if req.DueDate.Before(req.InvoiceDate) {
		return Invoice{}, shared.Validation("due_date", "due date cannot be before the invoice date")
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := tx.Sales().GetCustomer(ctx, who.CompanyID, req.CustomerID)
		if err != nil {
			return err
		}
		if !customer.IsActive {
			return shared.Validation("customer_id", "customer %s is inactive", customer.Code).WithEntity("customer", customer.ID)
		}
		if req.SalesOrderID != nil {
			order, err := tx.Sales().GetOrderForUpdate(ctx, who.CompanyID, *req.SalesOrderID)
			if err != nil {
				return err
			}
			if order.CustomerID != customer.ID {
				return shared.Validation("sales_order_id", "sales order %s belongs to another customer", order.DocNumber)
			}
		}
		lines, err := sales.PriceLines(ctx, s.prices, tx.References(), who.CompanyID, &customer.ID, req.InvoiceDate, req.Lines)
		if err != nil {
			return err
		}
		invLines := make([]Line, 0, len(lines))
		for _, l := range lines {
			invLines = append(invLines, Line{Line: l})
		}
		inv := Invoice{
			CompanyID:         who.CompanyID,
			CustomerID:        customer.ID,
			SalesOrderID:      req.SalesOrderID,
			InvoiceDate:       req.InvoiceDate,
			DueDate:           req.DueDate,
			Currency:          req.Currency,
			ExchangeRate:      exchangeRate(req.ExchangeRate),
			HeaderAdjustments: req.HeaderAdjustments,
			Totals:            sales.ComputeTotals(lines, req.HeaderAdjustments),
			Notes:             req.Notes,
		}
		out, err = s.insert(ctx, tx, who, inv, invLines)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, who, "sales_invoice:create", out.ID, map[string]any{"doc_number": out.DocNumber, "total": out.TotalAmount})
	s.observe("created")
	return out, nil
}

// CreateFromDeliveryNote invoices the quantities of a dispatched or delivered note at the
// order's prices. A note carries at most one invoice that is not VOID.
func (s *Service) CreateFromDeliveryNote(ctx context.Context, who shared.Identity, req CreateFromDeliveryNoteRequest) (Invoice, error) {
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.DeliveryNotes().GetForUpdate(ctx, who.CompanyID, req.DeliveryNoteID)
		if err != nil {
			return err
		}
		if note.Status != delivery.StatusDispatched && note.Status != delivery.StatusDelivered {
			return shared.InvalidStatus("delivery_note", note.ID,
				"delivery note %s is %s; only DISPATCHED or DELIVERED notes can be invoiced", note.DocNumber, note.Status)
		}
		invoiced, err := tx.HasActiveForDeliveryNote(ctx, who.CompanyID, note.ID)
		if err != nil {
			return err
		}
		if invoiced {
			return shared.Conflict(shared.CodeAlreadyInvoiced, "delivery note %s is already invoiced", note.DocNumber).
				WithEntity("delivery_note", note.ID).
				WithHint("void the existing invoice first")
		}
		order, err := tx.Sales().GetOrderForUpdate(ctx, who.CompanyID, note.SalesOrderID)
		if err != nil {
			return err
		}
		lines, err := linesFromNote(note, order)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if err := tx.Sales().AddInvoicedQty(ctx, order.ID, *l.SalesOrderItemID, l.Quantity); err != nil {
				return fmt.Errorf("advance invoiced quantity of line %d: %w", *l.SalesOrderItemID, err)
			}
		}
		invoiceDate := s.now().UTC().Truncate(24 * time.Hour)
		if req.InvoiceDate != nil {
			invoiceDate = *req.InvoiceDate
		}
		dueDate := invoiceDate.Add(DefaultPaymentTerm)
		if req.DueDate != nil {
			dueDate = *req.DueDate
		}
		if dueDate.Before(invoiceDate) {
			return shared.Validation("due_date", "due date cannot be before the invoice date")
		}
		plain := make([]sales.Line, 0, len(lines))
		for _, l := range lines {
			plain = append(plain, l.Line)
		}
		inv := Invoice{
			CompanyID:      who.CompanyID,
			CustomerID:     order.CustomerID,
			SalesOrderID:   &order.ID,
			DeliveryNoteID: &note.ID,
			InvoiceDate:    invoiceDate,
			DueDate:        dueDate,
			Currency:       order.Currency,
			ExchangeRate:   exchangeRate(order.ExchangeRate),
			Totals:         sales.ComputeTotals(plain, sales.HeaderAdjustments{}),
			Notes:          req.Notes,
		}
		out, err = s.insert(ctx, tx, who, inv, lines)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, who, "sales_invoice:create_from_delivery_note", out.ID, map[string]any{
		"doc_number":       out.DocNumber,
		"delivery_note_id": req.DeliveryNoteID,
		"total":            out.TotalAmount,
	})
	s.observe("created")
	return out, nil
}

// linesFromNote prices each delivered quantity with the order line's price, discount and tax.
// A fixed line discount is prorated over the delivered share of the ordered quantity.
func linesFromNote(note delivery.Note, order sales.SalesOrder) ([]Line, error) {
	byID := make(map[int64]sales.OrderLine, len(order.Lines))
	for _, l := range order.Lines {
		byID[l.ID] = l
	}
	lines := make([]Line, 0, len(note.Lines))
	for i, nl := range note.Lines {
		ol, ok := byID[nl.SalesOrderItemID]
		if !ok {
			return nil, shared.NotFound("sales_order item", nl.SalesOrderItemID)
		}
		discount := shared.Discount{Percent: ol.DiscountPercent}
		if ol.DiscountPercent == nil && ol.DiscountAmount > 0 {
			amount := shared.Prorate(ol.DiscountAmount, nl.DeliveredQty, ol.Quantity)
			discount.Amount = &amount
		}
		amounts := shared.ComputeLine(shared.LineInput{
			Quantity:   nl.DeliveredQty,
			UnitPrice:  nl.UnitPrice,
			Discount:   discount,
			TaxPercent: ol.TaxPercent,
		})
		uom := nl.UOMID
		orderLineID, noteLineID := ol.ID, nl.ID
		lines = append(lines, Line{
			Line: sales.Line{
				ItemID:          nl.ItemID,
				UOMID:           &uom,
				Description:     ol.Description,
				Quantity:        nl.DeliveredQty,
				UnitPrice:       nl.UnitPrice,
				PriceSource:     ol.PriceSource,
				PriceListID:     ol.PriceListID,
				DiscountPercent: ol.DiscountPercent,
				DiscountAmount:  amounts.DiscountAmount,
				TaxPercent:      ol.TaxPercent,
				TaxAmount:       amounts.TaxAmount,
				LineTotal:       amounts.LineTotal,
				LineOrder:       i + 1,
			},
			SalesOrderItemID:   &orderLineID,
			DeliveryNoteItemID: &noteLineID,
		})
	}
	return lines, nil
}

func (s *Service) insert(ctx context.Context, tx TxRepository, who shared.Identity, inv Invoice, lines []Line) (Invoice, error) {
	if inv.TotalAmount <= 0 {
		return Invoice{}, shared.Validation("items", "invoice total must be positive")
	}
	number, err := s.gen.Next(ctx, tx, who.CompanyID, numbering.DocSalesInvoice)
	if err != nil {
		return Invoice{}, fmt.Errorf("generate invoice number: %w", err)
	}
	now := s.now().UTC()
	inv.DocNumber = number
	inv.Status = InvoiceStatusDraft
	inv.CreatedBy = who.UserID
	inv.CreatedAt = now
	inv.UpdatedAt = now
	id, err := tx.Insert(ctx, inv)
	if err != nil {
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	inv.ID = id
	inv.Lines, err = tx.InsertLines(ctx, id, lines)
	if err != nil {
		return Invoice{}, fmt.Errorf("insert invoice lines: %w", err)
	}
	return inv, nil
}

// ============================================================================
// POSTING
// ============================================================================

// PostInvoice posts a DRAFT invoice to the general ledger. When an approval workflow covers
// the invoice amount and the invoice is not approved yet, a pending approval request is
// created (or the existing one reused) and posting fails with APPROVAL_REQUIRED.
func (s *Service) PostInvoice(ctx context.Context, who shared.Identity, id int64) (Invoice, error) {
	inv, err := s.repo.Get(ctx, who.CompanyID, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != InvoiceStatusDraft {
		return Invoice{}, shared.InvalidStatus("sales_invoice", inv.ID, "cannot post invoice %s in status %s", inv.DocNumber, inv.Status)
	}
	decision, err := s.approvalDecision(ctx, inv)
	if err != nil {
		return Invoice{}, err
	}
	if decision.NeedsApproval && !approved(inv.ApprovalStatus) {
		return Invoice{}, s.holdForApproval(ctx, who, inv, decision)
	}

	var out Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return shared.InvalidStatus("sales_invoice", inv.ID, "cannot post invoice %s in status %s", inv.DocNumber, inv.Status)
		}
		if decision.NeedsApproval && !approved(inv.ApprovalStatus) {
			return approvalRequired(inv, decision, inv.ApprovalRequestID)
		}
		entry, err := s.postJournal(ctx, tx, who, inv)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		inv.Status = InvoiceStatusPosted
		inv.JournalEntryID = &entry.ID
		inv.PostedBy = &who.UserID
		inv.PostedAt = &now
		inv.UpdatedAt = now
		if !decision.NeedsApproval && inv.ApprovalStatus == nil {
			notRequired := approval.DocumentNotRequired
			inv.ApprovalStatus = &notRequired
		}
		if err := tx.Update(ctx, inv); err != nil {
			return fmt.Errorf("post invoice: %w", err)
		}
		out = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.transitioned(out, InvoiceStatusDraft)
	s.record(ctx, who, "sales_invoice:post", out.ID, map[string]any{"journal_entry_id": out.JournalEntryID, "total": out.TotalAmount})
	s.observe("posted")
	return out, nil
}

func (s *Service) approvalDecision(ctx context.Context, inv Invoice) (approval.Decision, error) {
	if s.approvals == nil {
		return approval.Decision{}, nil
	}
	decision, err := s.approvals.CheckNeedsApproval(ctx, inv.CompanyID, approval.DocSalesInvoice, inv.TotalAmount)
	if err != nil {
		return approval.Decision{}, fmt.Errorf("check invoice approval: %w", err)
	}
	return decision, nil
}

// holdForApproval makes sure exactly one pending request exists for the invoice and returns
// the APPROVAL_REQUIRED error the caller reports.
func (s *Service) holdForApproval(ctx context.Context, who shared.Identity, inv Invoice, decision approval.Decision) error {
	req, created, err := s.approvals.CreateApprovalRequest(ctx, approval.CreateRequestInput{
		CompanyID:      inv.CompanyID,
		Decision:       decision,
		Module:         approval.DocSalesInvoice,
		DocumentType:   approval.DocSalesInvoice,
		DocumentID:     inv.ID,
		DocumentNumber: inv.DocNumber,
		Amount:         inv.TotalAmount,
		RequestedBy:    who.UserID,
	})
	if err != nil {
		return fmt.Errorf("request invoice approval: %w", err)
	}
	s.logger.Info("invoice posting held for approval",
		slog.Int64("id", inv.ID),
		slog.String("doc_number", inv.DocNumber),
		slog.Int64("approval_request_id", req.ID),
		slog.Bool("new_request", created))
	if created {
		s.observe("approval_requested")
	}
	return approvalRequired(inv, decision, &req.ID)
}

func approvalRequired(inv Invoice, decision approval.Decision, requestID *int64) error {
	e := shared.Forbidden(shared.CodeApprovalRequired, "invoice %s needs %s approval before posting", inv.DocNumber, decision.ApprovalRole).
		WithEntity("sales_invoice", inv.ID)
	if requestID != nil {
		e = e.WithHint(fmt.Sprintf("approval request %d is pending", *requestID))
	}
	return e
}

// approved applies the posting rule: once a workflow covers the invoice only an explicit
// approval lets it through.
func approved(status *string) bool {
	return status != nil && *status == approval.DocumentApproved
}

// postJournal books Dr receivable / Cr revenue, tax payable and freight income.
func (s *Service) postJournal(ctx context.Context, tx TxRepository, who shared.Identity, inv Invoice) (ledger.Entry, error) {
	keys := []string{ledger.KeyAR, ledger.KeyRevenue}
	if inv.TaxAmount > 0 {
		keys = append(keys, ledger.KeyTax)
	}
	if inv.FreightAmount > 0 {
		keys = append(keys, ledger.KeyFreight)
	}
	accounts, err := s.poster.Accounts(ctx, tx.Ledger(), inv.CompanyID, ledger.ModuleSalesInvoice, keys...)
	if err != nil {
		return ledger.Entry{}, err
	}
	revenue := shared.SubMoney(shared.SubMoney(inv.TotalAmount, inv.TaxAmount), inv.FreightAmount)
	lines := []ledger.Line{
		{AccountID: accounts[ledger.KeyAR], Debit: inv.TotalAmount, Memo: inv.DocNumber},
		{AccountID: accounts[ledger.KeyRevenue], Credit: revenue},
	}
	if inv.TaxAmount > 0 {
		lines = append(lines, ledger.Line{AccountID: accounts[ledger.KeyTax], Credit: inv.TaxAmount})
	}
	if inv.FreightAmount > 0 {
		lines = append(lines, ledger.Line{AccountID: accounts[ledger.KeyFreight], Credit: inv.FreightAmount})
	}
	entry, err := s.poster.Post(ctx, tx.Ledger(), ledger.PostingInput{
		CompanyID:    inv.CompanyID,
		Date:         inv.InvoiceDate,
		SourceModule: ledger.ModuleSalesInvoice,
		SourceID:     ledger.SourceID(ledger.ModuleSalesInvoice, inv.ID),
		Memo:         "Sales invoice " + inv.DocNumber,
		PostedBy:     who.UserID,
		Lines:        lines,
	})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("post journal for %s: %w", inv.DocNumber, err)
	}
	return entry, nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

// RecordPayment applies a receipt to a posted invoice and books Dr cash / Cr receivable.
// Payments above the open balance are rejected.
func (s *Service) RecordPayment(ctx context.Context, who shared.Identity, id int64, req RecordPaymentRequest) (Payment, Invoice, error) {
	amount := shared.Round2(req.Amount)
	if amount <= 0 {
		return Payment{}, Invoice{}, shared.Validation("amount", "payment amount must be positive")
	}
	var (
		payment Payment
		out     Invoice
		from    InvoiceStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		from = inv.Status
		if !inv.Status.Payable() {
			return shared.InvalidStatus("sales_invoice", inv.ID, "cannot record payment for invoice %s in status %s", inv.DocNumber, inv.Status)
		}
		if balance := inv.Balance(); amount > balance {
			return shared.Validation("amount", "payment %.2f exceeds the open balance %.2f of invoice %s", amount, balance, inv.DocNumber)
		}
		number, err := s.gen.Next(ctx, tx, who.CompanyID, numbering.DocInvoicePayment)
		if err != nil {
			return fmt.Errorf("generate payment number: %w", err)
		}
		now := s.now().UTC()
		payment = Payment{
			DocNumber:   number,
			CompanyID:   who.CompanyID,
			InvoiceID:   inv.ID,
			PaymentDate: req.PaymentDate,
			Amount:      amount,
			Method:      req.Method,
			Reference:   req.Reference,
			CreatedBy:   who.UserID,
			CreatedAt:   now,
		}
		if payment.ID, err = tx.InsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		accounts, err := s.poster.Accounts(ctx, tx.Ledger(), who.CompanyID, ledger.ModuleSalesPayment, ledger.KeyCash, ledger.KeyAR)
		if err != nil {
			return err
		}
		entry, err := s.poster.Post(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:    who.CompanyID,
			Date:         req.PaymentDate,
			SourceModule: ledger.ModuleSalesPayment,
			SourceID:     ledger.SourceID(ledger.ModuleSalesPayment, payment.ID),
			Memo:         fmt.Sprintf("Payment %s for %s", number, inv.DocNumber),
			PostedBy:     who.UserID,
			Lines: []ledger.Line{
				{AccountID: accounts[ledger.KeyCash], Debit: amount},
				{AccountID: accounts[ledger.KeyAR], Credit: amount, Memo: inv.DocNumber},
			},
		})
		if err != nil {
			return fmt.Errorf("post payment journal: %w", err)
		}
		if err := tx.SetPaymentJournal(ctx, payment.ID, entry.ID); err != nil {
			return err
		}
		payment.JournalEntryID = &entry.ID
		inv.PaidAmount = shared.AddMoney(inv.PaidAmount, amount)
		inv.Status = InvoiceStatusPartiallyPaid
		if inv.Balance() <= 0 {
			inv.Status = InvoiceStatusPaid
		}
		inv.UpdatedAt = now
		if err := tx.Update(ctx, inv); err != nil {
			return fmt.Errorf("update invoice balance: %w", err)
		}
		out = inv
		return nil
	})
	if err != nil {
		return Payment{}, Invoice{}, err
	}
	if from != out.Status {
		s.transitioned(out, from)
	}
	s.record(ctx, who, "sales_invoice:payment", out.ID, map[string]any{"payment": payment.DocNumber, "amount": amount, "balance": out.Balance()})
	s.observe("payment_recorded")
	return payment, out, nil
}

// ListPayments lists the payments of an invoice.
func (s *Service) ListPayments(ctx context.Context, who shared.Identity, id int64) ([]Payment, error) {
	if _, err := s.repo.Get(ctx, who.CompanyID, id); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, who.CompanyID, id)
}

// ============================================================================
// VOID
// ============================================================================

// VoidInvoice voids an invoice. A posted invoice gets a reversing journal entry; invoices
// with payments cannot be voided. Invoiced quantities return to the order lines.
func (s *Service) VoidInvoice(ctx context.Context, who shared.Identity, id int64, reason string) (Invoice, error) {
	if reason == "" {
		return Invoice{}, shared.Validation("reason", "void reason is required")
	}
	var (
		out  Invoice
		from InvoiceStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		from = inv.Status
		switch inv.Status {
		case InvoiceStatusDraft, InvoiceStatusPosted:
		case InvoiceStatusVoid:
			return shared.InvalidStatus("sales_invoice", inv.ID, "invoice %s is already VOID", inv.DocNumber)
		default:
			return hasPayments(inv)
		}
		payments, err := tx.CountPayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		if payments > 0 || inv.PaidAmount > 0 {
			return hasPayments(inv)
		}
		if inv.JournalEntryID != nil {
			reversal, err := s.poster.Reverse(ctx, tx.Ledger(), who.CompanyID, *inv.JournalEntryID, who.UserID,
				fmt.Sprintf("Void %s: %s", inv.DocNumber, reason))
			if err != nil {
				return fmt.Errorf("reverse journal of %s: %w", inv.DocNumber, err)
			}
			inv.VoidJournalEntryID = &reversal.ID
		}
		if inv.SalesOrderID != nil {
			for _, l := range inv.Lines {
				if l.SalesOrderItemID == nil {
					continue
				}
				if err := tx.Sales().AddInvoicedQty(ctx, *inv.SalesOrderID, *l.SalesOrderItemID, -l.Quantity); err != nil {
					return fmt.Errorf("return invoiced quantity of line %d: %w", *l.SalesOrderItemID, err)
				}
			}
		}
		now := s.now().UTC()
		inv.Status = InvoiceStatusVoid
		inv.VoidedBy = &who.UserID
		inv.VoidedAt = &now
		inv.VoidReason = &reason
		inv.UpdatedAt = now
		if err := tx.Update(ctx, inv); err != nil {
			return fmt.Errorf("void invoice: %w", err)
		}
		out = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.transitioned(out, from)
	s.record(ctx, who, "sales_invoice:void", out.ID, map[string]any{"reason": reason, "reversal_entry_id": out.VoidJournalEntryID})
	s.observe("voided")
	return out, nil
}

func hasPayments(inv Invoice) error {
	return shared.Conflict(shared.CodeInvoiceHasPayments, "invoice %s is %s with %.2f paid and cannot be voided", inv.DocNumber, inv.Status, inv.PaidAmount).
		WithEntity("sales_invoice", inv.ID).
		WithHint("issue a credit note instead")
}

// ============================================================================
// QUERIES
// ============================================================================

// GetInvoice loads an invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, who shared.Identity, id int64) (Invoice, error) {
	return s.repo.Get(ctx, who.CompanyID, id)
}

// ListInvoices lists invoices of the caller's company.
func (s *Service) ListInvoices(ctx context.Context, who shared.Identity, req ListRequest) ([]Invoice, int, error) {
	req.CompanyID = who.CompanyID
	return s.repo.List(ctx, req)
}

// CalculateAging groups open balances by days past due as of asOf.
func (s *Service) CalculateAging(ctx context.Context, who shared.Identity, customerID *int64, asOf time.Time) (AgingBucket, error) {
	invoices, err := s.repo.ListOutstanding(ctx, who.CompanyID, customerID)
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	var bucket AgingBucket
	for _, inv := range invoices {
		balance := inv.Balance()
		if !inv.Status.Payable() || balance <= 0 {
			continue
		}
		days := int(asOf.Sub(inv.DueDate).Hours() / 24)
		switch {
		case days <= 0:
			bucket.Current = shared.AddMoney(bucket.Current, balance)
		case days <= 30:
			bucket.Bucket30 = shared.AddMoney(bucket.Bucket30, balance)
		case days <= 60:
			bucket.Bucket60 = shared.AddMoney(bucket.Bucket60, balance)
		case days <= 90:
			bucket.Bucket90 = shared.AddMoney(bucket.Bucket90, balance)
		default:
			bucket.Bucket120 = shared.AddMoney(bucket.Bucket120, balance)
		}
	}
	return bucket, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func exchangeRate(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return rate
}

func (s *Service) transitioned(inv Invoice, from InvoiceStatus) {
	s.logger.Info("sales_invoice status changed",
		slog.Int64("id", inv.ID),
		slog.String("doc_number", inv.DocNumber),
		slog.String("from", string(from)),
		slog.String("to", string(inv.Status)))
}

func (s *Service) record(ctx context.Context, who shared.Identity, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: who.CompanyID,
		ActorID:   who.UserID,
		Action:    action,
		Entity:    "sales_invoice",
		EntityID:  fmt.Sprint(id),
		Meta:      meta,
		At:        s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit invoice event", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(event string) {
	if s.metrics != nil {
		s.metrics.DocumentEvent("sales_invoice", event)
	}
}
