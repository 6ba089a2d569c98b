// Package sqlite provides the durable store for jobs, providers, models,
// rate counters, and provider backoffs.
//
// The engine is a single-writer SQLite database opened in WAL mode with full
// fsync on commit; every mutating repository operation is one transaction.
// Busy-timeout retries are handled by the driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (creating if needed) the database at path, applies the engine
// pragmas, and runs schema migration.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("op=sqlite.open: %w", err)
			}
		}
	}
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate",
		path,
	)
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared&_foreign_keys=on&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("op=sqlite.open: %w", err)
	}
	if path == ":memory:" {
		// Shared-cache in-memory databases vanish when the last conn closes.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema. All statements are idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("op=sqlite.migrate: %w", err)
	}
	return nil
}
