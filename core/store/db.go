package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"kestrel-qms/config"
	"kestrel-qms/core/utils"
)

// NewDB opens the configured database. The default driver is the embedded
// sqlite engine; postgres is selected with db_driver=postgres plus db_url.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "sqlite":
		path := cfg.DBPath
		if strings.TrimSpace(path) == "" {
			path = "data/kestrel.db"
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// modernc sqlite serializes writers; a single connection avoids
		// SQLITE_BUSY races under concurrent handlers.
		db.SetMaxOpenConns(1)
		if logger != nil {
			logger.Printf("sqlite database at %s", path)
		}
		return db, nil
	case "postgres":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Printf("postgres database configured")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}
