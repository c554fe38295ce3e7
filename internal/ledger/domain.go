// Package ledger posts balanced journal entries for sales documents.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	StatusPosted   EntryStatus = "POSTED"
	StatusReversed EntryStatus = "REVERSED"
)

// Source modules stamped on sales postings.
const (
	ModuleSalesInvoice = "SALES.INVOICE"
	ModuleSalesPayment = "SALES.PAYMENT"
)

// Mapping keys resolved through account_mappings.
const (
	KeyAR      = "ar.receivable"
	KeyRevenue = "sales.revenue"
	KeyTax     = "sales.tax_payable"
	KeyFreight = "sales.freight"
	KeyCash    = "ar.cash"
)

// Entry is a posted journal entry.
type Entry struct {
	ID           int64       `json:"id"`
	CompanyID    int64       `json:"company_id"`
	Number       string      `json:"number"`
	Date         time.Time   `json:"date"`
	SourceModule string      `json:"source_module"`
	SourceID     uuid.UUID   `json:"source_id"`
	Memo         string      `json:"memo"`
	PostedBy     int64       `json:"posted_by"`
	Status       EntryStatus `json:"status"`
	ReversalOf   *int64      `json:"reversal_of,omitempty"`
	Lines        []Line      `json:"lines"`
}

// Line stores debit or credit amount for an account.
type Line struct {
	AccountID int64   `json:"account_id"`
	Debit     float64 `json:"debit"`
	Credit    float64 `json:"credit"`
	Memo      string  `json:"memo,omitempty"`
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	CompanyID    int64
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	Lines        []Line
}

// SourceID derives a stable source reference for a document row.
func SourceID(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", module, id)))
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = shared.Validation("lines", "ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = shared.Validation("lines", "ledger: journal requires at least two lines")
	// ErrSourceAlreadyLinked indicates the source document already has an entry.
	ErrSourceAlreadyLinked = shared.Conflict(shared.CodeDuplicateCode, "ledger: source already posted")
)

// Validate ensures posting input meets minimum criteria. Zero lines are dropped first.
func (in PostingInput) Validate() error {
	if in.CompanyID == 0 {
		return shared.Validation("company_id", "ledger: company required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return shared.Validation("lines", "ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return shared.Validation("lines", "ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return shared.Validation("lines", "ledger: line %d cannot be both debit and credit", idx)
		}
		debit = debit.Add(decimal.NewFromFloat(line.Debit))
		credit = credit.Add(decimal.NewFromFloat(line.Credit))
	}
	if !debit.Round(2).Equal(credit.Round(2)) {
		return ErrUnbalanced
	}
	if in.SourceModule == "" {
		return shared.Validation("source_module", "ledger: source module required")
	}
	if in.SourceID == uuid.Nil {
		return shared.Validation("source_id", "ledger: source id required")
	}
	return nil
}

// compact drops lines that carry no amount, e.g. zero freight.
func compact(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Debit == 0 && l.Credit == 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}

func reverseLines(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, Line{AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit, Memo: line.Memo})
	}
	return out
}
