package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"incident-engine/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// ApplyMigrations brings the incident schema up to date for the given dialect.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *utils.Logger) error {
	gooseDialect := goose.DialectSQLite3
	dir := "migrations/sqlite"
	if dialect == DialectPostgres {
		gooseDialect = goose.DialectPostgres
		dir = "migrations/postgres"
	}
	fsys, err := fs.Sub(migrationFiles, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("%s migrations failed: %w", dialect, err)
	}
	if logger != nil {
		logger.Printf("%s migrations applied count=%d", dialect, len(results))
	}
	return nil
}
