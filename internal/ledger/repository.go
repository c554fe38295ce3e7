package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// SQLStore implements Store on a pool or a caller's transaction.
type SQLStore struct {
	*numbering.SQLSequencer
	q db.DBTX
}

// NewSQLStore binds the store to q.
func NewSQLStore(q db.DBTX) *SQLStore {
	return &SQLStore{SQLSequencer: numbering.NewSQLSequencer(q), q: q}
}

// ResolveAccount resolves an account mapping for the specified key.
func (s *SQLStore) ResolveAccount(ctx context.Context, companyID int64, module, key string) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `SELECT account_id FROM account_mappings
WHERE company_id = $1 AND module = $2 AND key = $3`, companyID, strings.ToUpper(module), key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.Validation("account_mapping", "ledger: account mapping %s/%s not configured", module, key).
			WithHint("configure account mappings for the company")
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: resolve account: %w", err)
	}
	return id, nil
}

func (s *SQLStore) FindBySource(ctx context.Context, companyID int64, module string, sourceID uuid.UUID) (Entry, bool, error) {
	var e Entry
	var status string
	err := s.q.QueryRow(ctx, `SELECT id, company_id, number, entry_date, source_module, source_id, COALESCE(memo, ''), posted_by, status, reversal_of
FROM journal_entries WHERE company_id = $1 AND source_module = $2 AND source_id = $3`, companyID, module, sourceID).
		Scan(&e.ID, &e.CompanyID, &e.Number, &e.Date, &e.SourceModule, &e.SourceID, &e.Memo, &e.PostedBy, &status, &e.ReversalOf)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.Status = EntryStatus(status)
	return e, true, nil
}

func (s *SQLStore) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO journal_entries
(company_id, number, entry_date, source_module, source_id, memo, posted_by, posted_at, status, reversal_of)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW(), $8, $9)
RETURNING id`, e.CompanyID, e.Number, e.Date, e.SourceModule, e.SourceID, e.Memo, e.PostedBy, string(e.Status), e.ReversalOf).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrSourceAlreadyLinked
		}
		return 0, db.TranslateError(err, "journal entry", nil)
	}
	return id, nil
}

func (s *SQLStore) InsertLines(ctx context.Context, entryID int64, lines []Line) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO journal_lines (journal_entry_id, account_id, debit, credit, memo)
VALUES ($1, $2, $3, $4, NULLIF($5, ''))`, entryID, l.AccountID, l.Debit, l.Credit, l.Memo)
	}
	br := s.q.SendBatch(ctx, batch)
	defer br.Close()
	for range lines {
		if _, err := br.Exec(); err != nil {
			return db.TranslateError(err, "journal line", nil)
		}
	}
	return nil
}

func (s *SQLStore) GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error) {
	var e Entry
	var status string
	err := s.q.QueryRow(ctx, `SELECT id, company_id, number, entry_date, source_module, source_id, COALESCE(memo, ''), posted_by, status, reversal_of
FROM journal_entries WHERE id = $1 AND company_id = $2 FOR UPDATE`, id, companyID).
		Scan(&e.ID, &e.CompanyID, &e.Number, &e.Date, &e.SourceModule, &e.SourceID, &e.Memo, &e.PostedBy, &status, &e.ReversalOf)
	if err != nil {
		return Entry{}, db.TranslateError(err, "journal entry", id)
	}
	e.Status = EntryStatus(status)
	rows, err := s.q.Query(ctx, `SELECT account_id, debit, credit, COALESCE(memo, '') FROM journal_lines
WHERE journal_entry_id = $1 ORDER BY id`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.AccountID, &l.Debit, &l.Credit, &l.Memo); err != nil {
			return Entry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

func (s *SQLStore) MarkReversed(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `UPDATE journal_entries SET status = 'REVERSED' WHERE id = $1`, id)
	return err
}
