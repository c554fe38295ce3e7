// Package filter compiles typed list predicates into parameterized SQL.
package filter

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Op is a comparison operator.
type Op string

const (
	Eq    Op = "="
	NotEq Op = "<>"
	Gte   Op = ">="
	Lte   Op = "<="
	In    Op = "IN"
	ILike Op = "ILIKE"
)

// Predicate is a single (field, operator, value) condition.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Columns whitelists API field names and maps them to SQL columns.
type Columns map[string]string

// Builder accumulates predicates for one list query.
type Builder struct {
	columns    Columns
	predicates []Predicate
}

// New creates a builder restricted to the given columns.
func New(columns Columns) *Builder {
	return &Builder{columns: columns}
}

// Where adds a predicate.
func (b *Builder) Where(field string, op Op, value any) *Builder {
	b.predicates = append(b.predicates, Predicate{Field: field, Op: op, Value: value})
	return b
}

// WhereIf adds a predicate only when cond holds, used for optional filters.
func (b *Builder) WhereIf(cond bool, field string, op Op, value any) *Builder {
	if cond {
		return b.Where(field, op, value)
	}
	return b
}

// Predicates returns a copy of the accumulated predicates.
func (b *Builder) Predicates() []Predicate {
	out := make([]Predicate, len(b.predicates))
	copy(out, b.predicates)
	return out
}

// Compile renders "col = $n AND ..." starting at placeholder index start.
// It returns the clause (without WHERE), the arguments and the next free index.
func (b *Builder) Compile(start int) (string, []any, int, error) {
	if len(b.predicates) == 0 {
		return "", nil, start, nil
	}
	parts := make([]string, 0, len(b.predicates))
	args := make([]any, 0, len(b.predicates))
	pos := start
	for _, p := range b.predicates {
		col, ok := b.columns[p.Field]
		if !ok {
			return "", nil, start, shared.Validation(p.Field, "unsupported filter field %q", p.Field)
		}
		switch p.Op {
		case Eq, NotEq, Gte, Lte:
			parts = append(parts, fmt.Sprintf("%s %s $%d", col, p.Op, pos))
			args = append(args, p.Value)
		case ILike:
			parts = append(parts, fmt.Sprintf("%s ILIKE $%d", col, pos))
			args = append(args, "%"+fmt.Sprint(p.Value)+"%")
		case In:
			parts = append(parts, fmt.Sprintf("%s = ANY($%d)", col, pos))
			args = append(args, p.Value)
		default:
			return "", nil, start, shared.Validation(p.Field, "unsupported filter operator %q", p.Op)
		}
		pos++
	}
	return strings.Join(parts, " AND "), args, pos, nil
}

// Page normalises limit and offset.
func Page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
