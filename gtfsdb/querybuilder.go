package gtfsdb

import (
	"context"
	"database/sql"
	"strings"
)

// selectBuilder assembles a SELECT with a fixed set of optional-projection
// slots. Each optional slot is gated by a boolean from the schema cache;
// an omitted slot is simply never selected, so its destination keeps its
// zero value and absent columns can never surface as SQL errors.
type selectBuilder struct {
	exprs   []string
	dests   []any
	from    string
	joins   []string
	wheres  []string
	args    []any
	orderBy string
	limit   int64
	offset  int64
	hasPage bool
}

func newSelect(from string) *selectBuilder {
	return &selectBuilder{from: from}
}

// column adds an always-selected expression scanned into dest.
func (b *selectBuilder) column(expr string, dest any) *selectBuilder {
	b.exprs = append(b.exprs, expr)
	b.dests = append(b.dests, dest)
	return b
}

// optionalColumn adds the expression only when present is true.
func (b *selectBuilder) optionalColumn(present bool, expr string, dest any) *selectBuilder {
	if present {
		b.column(expr, dest)
	}
	return b
}

func (b *selectBuilder) join(clause string) *selectBuilder {
	b.joins = append(b.joins, clause)
	return b
}

func (b *selectBuilder) optionalJoin(present bool, clause string) *selectBuilder {
	if present {
		b.join(clause)
	}
	return b
}

func (b *selectBuilder) where(clause string, args ...any) *selectBuilder {
	b.wheres = append(b.wheres, clause)
	b.args = append(b.args, args...)
	return b
}

func (b *selectBuilder) order(clause string) *selectBuilder {
	b.orderBy = clause
	return b
}

func (b *selectBuilder) page(limit, offset int64) *selectBuilder {
	b.limit, b.offset, b.hasPage = limit, offset, true
	return b
}

func (b *selectBuilder) sql() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.exprs, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	if b.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.orderBy)
	}
	args := b.args
	if b.hasPage {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(append([]any{}, args...), b.limit, b.offset)
	}
	return sb.String(), args
}

// each runs the query and invokes fn once per row after scanning into the
// registered destinations. fn copies the scanned values out; the
// destinations are reused across rows.
func (b *selectBuilder) each(ctx context.Context, db *sql.DB, fn func() error) error {
	query, args := b.sql()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close() // nolint:errcheck

	for rows.Next() {
		if err := rows.Scan(b.dests...); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return rows.Err()
}
