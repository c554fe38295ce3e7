package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

var orderColumns = Columns{
	"status":      "so.status",
	"customer_id": "so.customer_id",
	"date_from":   "so.order_date",
	"search":      "so.doc_number",
}

func TestCompile(t *testing.T) {
	b := New(orderColumns).
		Where("status", Eq, "CONFIRMED").
		WhereIf(false, "customer_id", Eq, int64(3)).
		Where("date_from", Gte, "2024-01-01").
		Where("search", ILike, "SO-")

	clause, args, next, err := b.Compile(2)

	require.NoError(t, err)
	require.Equal(t, "so.status = $2 AND so.order_date >= $3 AND so.doc_number ILIKE $4", clause)
	require.Equal(t, []any{"CONFIRMED", "2024-01-01", "%SO-%"}, args)
	require.Equal(t, 5, next)
}

func TestCompileRejectsUnknownField(t *testing.T) {
	_, _, _, err := New(orderColumns).Where("1=1; DROP TABLE x", Eq, 1).Compile(1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCompileIn(t *testing.T) {
	clause, args, _, err := New(orderColumns).Where("status", In, []string{"DRAFT", "APPROVED"}).Compile(1)
	require.NoError(t, err)
	require.Equal(t, "so.status = ANY($1)", clause)
	require.Len(t, args, 1)
}

func TestEmpty(t *testing.T) {
	clause, args, next, err := New(orderColumns).Compile(4)
	require.NoError(t, err)
	require.Empty(t, clause)
	require.Nil(t, args)
	require.Equal(t, 4, next)
}

func TestPage(t *testing.T) {
	l, o := Page(0, -5)
	require.Equal(t, 50, l)
	require.Equal(t, 0, o)
	l, _ = Page(500, 0)
	require.Equal(t, 50, l)
}
