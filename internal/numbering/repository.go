package numbering

import (
	"context"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// SQLSequencer increments counters in document_sequences. The upsert takes the row lock,
// so concurrent transactions on the same series serialise on it.
type SQLSequencer struct {
	q db.DBTX
}

// NewSQLSequencer binds the sequencer to a pool or transaction.
func NewSQLSequencer(q db.DBTX) *SQLSequencer {
	return &SQLSequencer{q: q}
}

// Increment implements Sequencer.
func (s *SQLSequencer) Increment(ctx context.Context, companyID int64, docType DocumentType, period string) (int64, error) {
	const query = `INSERT INTO document_sequences (company_id, document_type, period, last_value, updated_at)
VALUES ($1, $2, $3, 1, NOW())
ON CONFLICT (company_id, document_type, period)
DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
RETURNING last_value`
	var value int64
	if err := s.q.QueryRow(ctx, query, companyID, string(docType), period).Scan(&value); err != nil {
		return 0, db.TranslateError(err, "document sequence", docType)
	}
	return value, nil
}
