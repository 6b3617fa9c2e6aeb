// Package db provides the shared SQLite connection and schema for fadectl.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables.
func initSchema(db *sql.DB) error {
	// Scene catalog - named lighting presets with a default fade duration.
	// position preserves the user-facing ordering; the lowest position is
	// the boot auto-apply scene.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scenes (
			name TEXT PRIMARY KEY,
			brightness INTEGER NOT NULL,
			red INTEGER NOT NULL,
			green INTEGER NOT NULL,
			blue INTEGER NOT NULL,
			white INTEGER NOT NULL,
			fade_ms INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scenes_position ON scenes(position);
	`)
	if err != nil {
		return fmt.Errorf("failed to create scenes table: %w", err)
	}

	// Fade ledger - append-only fade history for auditing. Multiple entries
	// per session (started, completed, aborted), correlated by session_id.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS fade_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT,
			source TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_fade_ledger_type_ts ON fade_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_fade_ledger_session ON fade_ledger(session_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create fade_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
