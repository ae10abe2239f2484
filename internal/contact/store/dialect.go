package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"identify/internal/contact/models"
)

// Dialect selects the SQL flavour a SQLStore speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a database driver name onto its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("no SQL dialect for driver %q", driver)
	}
}

// rebind rewrites ? placeholders as $1..$n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// idSet renders "column matches any of ids" with its arguments. Postgres
// binds the whole set as one array; SQLite expands an IN list.
func (d Dialect) idSet(column string, ids []models.ContactID) (string, []any) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	if d == DialectPostgres {
		return column + " = ANY(?)", []any{pq.Array(raw)}
	}
	args := make([]any, len(raw))
	for i, id := range raw {
		args[i] = id
	}
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(raw)), ",") + ")", args
}

// forUpdate is the row-lock suffix; SQLite transactions already hold the
// database write lock.
func (d Dialect) forUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}
