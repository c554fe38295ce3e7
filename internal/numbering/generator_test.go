package numbering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memorySequencer struct {
	mu     sync.Mutex
	values map[string]int64
	fail   error
}

func newMemorySequencer() *memorySequencer {
	return &memorySequencer{values: make(map[string]int64)}
}

func (m *memorySequencer) Increment(_ context.Context, companyID int64, docType DocumentType, period string) (int64, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d:%s:%s", companyID, docType, period)
	m.values[key]++
	return m.values[key], nil
}

func fixedGenerator() *Generator {
	g := NewGenerator(nil)
	g.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return g
}

func TestNextFormatsAndIncrements(t *testing.T) {
	g := fixedGenerator()
	seq := newMemorySequencer()
	ctx := context.Background()

	first, err := g.Next(ctx, seq, 1, DocQuotation)
	require.NoError(t, err)
	require.Equal(t, "QT-2024-00001", first)

	second, err := g.Next(ctx, seq, 1, DocQuotation)
	require.NoError(t, err)
	require.Equal(t, "QT-2024-00002", second)

	otherCompany, err := g.Next(ctx, seq, 2, DocQuotation)
	require.NoError(t, err)
	require.Equal(t, "QT-2024-00001", otherCompany)

	je, err := g.Next(ctx, seq, 1, DocJournalEntry)
	require.NoError(t, err)
	require.Equal(t, "JE-000001", je)
}

func TestNextConcurrentCallersGetDistinctNumbers(t *testing.T) {
	g := fixedGenerator()
	seq := newMemorySequencer()
	const callers = 64

	var mu sync.Mutex
	seen := make(map[string]struct{}, callers)
	var eg errgroup.Group
	for i := 0; i < callers; i++ {
		eg.Go(func() error {
			n, err := g.Next(context.Background(), seq, 7, DocSalesInvoice)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[n]; dup {
				return fmt.Errorf("duplicate number %s", n)
			}
			seen[n] = struct{}{}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Len(t, seen, callers)
}

func TestNextRejectsUnknownTypeAndMissingCompany(t *testing.T) {
	g := fixedGenerator()
	seq := newMemorySequencer()

	_, err := g.Next(context.Background(), seq, 1, DocumentType("purchase_order"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = g.Next(context.Background(), seq, 0, DocQuotation)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNextPropagatesSequencerFailure(t *testing.T) {
	seq := newMemorySequencer()
	seq.fail = errors.New("connection lost")

	_, err := fixedGenerator().Next(context.Background(), seq, 1, DocSalesOrder)
	require.ErrorContains(t, err, "connection lost")
}
