// Package numbering issues sequential, human-readable document numbers per company.
package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// DocumentType identifies a numbered document series.
type DocumentType string

const (
	DocQuotation      DocumentType = "quotation"
	DocSalesOrder     DocumentType = "sales_order"
	DocDeliveryNote   DocumentType = "delivery_note"
	DocSalesInvoice   DocumentType = "sales_invoice"
	DocInvoicePayment DocumentType = "invoice_payment"
	DocJournalEntry   DocumentType = "journal_entry"
)

// Format describes how a series renders: PREFIX-YYYY-000123 or PREFIX-000123.
type Format struct {
	Prefix      string
	Padding     int
	YearlyReset bool
}

// DefaultFormats are the series used unless configured otherwise.
var DefaultFormats = map[DocumentType]Format{
	DocQuotation:      {Prefix: "QT", Padding: 5, YearlyReset: true},
	DocSalesOrder:     {Prefix: "SO", Padding: 5, YearlyReset: true},
	DocDeliveryNote:   {Prefix: "DN", Padding: 5, YearlyReset: true},
	DocSalesInvoice:   {Prefix: "INV", Padding: 5, YearlyReset: true},
	DocInvoicePayment: {Prefix: "PAY", Padding: 6, YearlyReset: true},
	DocJournalEntry:   {Prefix: "JE", Padding: 6, YearlyReset: false},
}

// Sequencer atomically increments and returns the counter of one series. Implementations
// must never return the same value twice for the same key, even under concurrent callers.
type Sequencer interface {
	Increment(ctx context.Context, companyID int64, docType DocumentType, period string) (int64, error)
}

// Generator formats counter values into document numbers.
type Generator struct {
	formats map[DocumentType]Format
	now     func() time.Time
}

// NewGenerator builds a Generator; nil formats fall back to DefaultFormats.
func NewGenerator(formats map[DocumentType]Format) *Generator {
	if formats == nil {
		formats = DefaultFormats
	}
	return &Generator{formats: formats, now: time.Now}
}

// WithNow overrides the clock for testing.
func (g *Generator) WithNow(now func() time.Time) *Generator {
	if now != nil {
		g.now = now
	}
	return g
}

// Next draws the next number from seq. When seq runs inside the caller's transaction the
// increment rolls back together with the document it numbers.
func (g *Generator) Next(ctx context.Context, seq Sequencer, companyID int64, docType DocumentType) (string, error) {
	if companyID == 0 {
		return "", shared.Validation("company_id", "company is required to number a document")
	}
	format, ok := g.formats[docType]
	if !ok {
		return "", shared.Validation("document_type", "unknown document type %q", docType)
	}
	period := ""
	if format.YearlyReset {
		period = g.now().UTC().Format("2006")
	}
	value, err := seq.Increment(ctx, companyID, docType, period)
	if err != nil {
		return "", fmt.Errorf("numbering: increment %s: %w", docType, err)
	}
	return format.Render(period, value), nil
}

// Render formats a counter value.
func (f Format) Render(period string, value int64) string {
	if period != "" {
		return fmt.Sprintf("%s-%s-%0*d", f.Prefix, period, f.Padding, value)
	}
	return fmt.Sprintf("%s-%0*d", f.Prefix, f.Padding, value)
}
