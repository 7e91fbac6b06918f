package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// selectQuery accumulates WHERE clauses and positional arguments.
type selectQuery struct {
	base  string
	where []string
	args  []any
	order string
	limit int
	skip  int
}

func newSelect(base, order string) *selectQuery {
	return &selectQuery{base: base, order: order}
}

// whereArg adds a clause whose single "?" is replaced with the next $n.
func (q *selectQuery) whereArg(clause string, arg any) *selectQuery {
	q.args = append(q.args, arg)
	q.where = append(q.where, strings.Replace(clause, "?", fmt.Sprintf("$%d", len(q.args)), 1))
	return q
}

func (q *selectQuery) window(column string, since, until *time.Time) *selectQuery {
	if since != nil {
		q.whereArg(column+" >= ?", *since)
	}
	if until != nil {
		q.whereArg(column+" <= ?", *until)
	}
	return q
}

func (q *selectQuery) page(opts domain.ListOpts) *selectQuery {
	q.limit = opts.Limit
	q.skip = opts.Offset
	return q
}

func (q *selectQuery) build() (string, []any) {
	var b strings.Builder
	b.WriteString(q.base)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if q.order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.order)
	}
	args := q.args
	if q.limit > 0 {
		args = append(args, q.limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.skip > 0 {
		args = append(args, q.skip)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
