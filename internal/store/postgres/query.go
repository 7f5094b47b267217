package postgres

import (
	"fmt"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// windowed appends the time window of opts on column, the ordering and the
// paging to a query that already binds len(args) placeholders.
func windowed(query, column, orderBy string, args []any, opts domain.ListOpts) (string, []any) {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= %s", column, next(*opts.Since))
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= %s", column, next(*opts.Until))
	}
	query += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
