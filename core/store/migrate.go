package store

import (
	"context"
	"database/sql"
	"embed"
	"strings"

	"github.com/pressly/goose/v3"

	"kestrel-qms/core/utils"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ApplyMigrations brings the schema up to date with the embedded migration
// set.
func ApplyMigrations(ctx context.Context, db *sql.DB, driver string, logger *utils.Logger) error {
	dialect := "sqlite3"
	if strings.ToLower(strings.TrimSpace(driver)) == "postgres" {
		dialect = "postgres"
	}
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("migrations applied (%s)", dialect)
	}
	return nil
}
