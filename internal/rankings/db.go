// Package rankings maintains a local SQLite database of Journal Citation
// Reports rankings and looks journals up in it.
package rankings

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

const schema = `
CREATE TABLE IF NOT EXISTS jcr (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	year          INTEGER NOT NULL,
	journal       TEXT NOT NULL,
	issn          TEXT,
	eissn         TEXT,
	category      TEXT,
	impact_factor REAL,
	quartile      TEXT,
	UNIQUE(year, journal)
);
CREATE INDEX IF NOT EXISTS idx_jcr_journal ON jcr(journal COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_jcr_issn ON jcr(issn);
CREATE INDEX IF NOT EXISTS idx_jcr_eissn ON jcr(eissn);
`

// Open opens (creating if needed) the rankings database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure rankings dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply rankings schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
