package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate creates the contacts schema for dialect. Statements are idempotent,
// so running it against an existing database is safe.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	script, err := migrations.ReadFile("migrations/" + string(dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("read %s migration: %w", dialect, err)
	}
	for _, stmt := range strings.Split(string(script), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s migration: %w", dialect, err)
		}
	}
	return nil
}
