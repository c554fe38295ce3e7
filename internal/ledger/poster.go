package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Store is the transactional surface of the ledger. Documents post inside their own
// transaction by passing a store bound to it.
type Store interface {
	numbering.Sequencer
	ResolveAccount(ctx context.Context, companyID int64, module, key string) (int64, error)
	FindBySource(ctx context.Context, companyID int64, module string, sourceID uuid.UUID) (Entry, bool, error)
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []Line) error
	GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error)
	MarkReversed(ctx context.Context, id int64) error
}

// Poster validates and writes journal entries.
type Poster struct {
	numbers *numbering.Generator
	now     func() time.Time
}

// NewPoster constructs a Poster numbering entries with gen.
func NewPoster(gen *numbering.Generator) *Poster {
	return &Poster{numbers: gen, now: time.Now}
}

// WithNow overrides the clock for testing.
func (p *Poster) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Accounts resolves mapping keys of a module into account ids.
func (p *Poster) Accounts(ctx context.Context, store Store, companyID int64, module string, keys ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		id, err := store.ResolveAccount(ctx, companyID, module, key)
		if err != nil {
			return nil, err
		}
		out[key] = id
	}
	return out, nil
}

// Post writes a balanced entry. Posting the same source twice fails with ErrSourceAlreadyLinked.
func (p *Poster) Post(ctx context.Context, store Store, in PostingInput) (Entry, error) {
	in.Lines = compact(in.Lines)
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	if _, found, err := store.FindBySource(ctx, in.CompanyID, in.SourceModule, in.SourceID); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, ErrSourceAlreadyLinked
	}
	return p.insert(ctx, store, in, nil)
}

// Reverse posts the mirror of entry id and flags the original REVERSED.
func (p *Poster) Reverse(ctx context.Context, store Store, companyID, id, actorID int64, memo string) (Entry, error) {
	original, err := store.GetEntryForUpdate(ctx, companyID, id)
	if err != nil {
		return Entry{}, err
	}
	if original.Status != StatusPosted {
		return Entry{}, shared.InvalidStatus("journal_entry", id, "journal entry %s is already %s", original.Number, original.Status)
	}
	if memo == "" {
		memo = fmt.Sprintf("Reversal of %s", original.Number)
	}
	in := PostingInput{
		CompanyID:    companyID,
		Date:         p.now(),
		SourceModule: original.SourceModule + ":REVERSAL",
		SourceID:     original.SourceID,
		Memo:         memo,
		PostedBy:     actorID,
		Lines:        reverseLines(original.Lines),
	}
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	reversal, err := p.insert(ctx, store, in, &original.ID)
	if err != nil {
		return Entry{}, err
	}
	if err := store.MarkReversed(ctx, original.ID); err != nil {
		return Entry{}, err
	}
	return reversal, nil
}

func (p *Poster) insert(ctx context.Context, store Store, in PostingInput, reversalOf *int64) (Entry, error) {
	number, err := p.numbers.Next(ctx, store, in.CompanyID, numbering.DocJournalEntry)
	if err != nil {
		return Entry{}, err
	}
	date := in.Date
	if date.IsZero() {
		date = p.now()
	}
	entry := Entry{
		CompanyID:    in.CompanyID,
		Number:       number,
		Date:         date,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		PostedBy:     in.PostedBy,
		Status:       StatusPosted,
		ReversalOf:   reversalOf,
		Lines:        in.Lines,
	}
	id, err := store.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	if err := store.InsertLines(ctx, id, in.Lines); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
