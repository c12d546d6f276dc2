package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// schema is the DDL executed on every open. IF NOT EXISTS makes it safe to
// run repeatedly.
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    filename   TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL,
    scope      TEXT NOT NULL DEFAULT '',
    packages   INTEGER NOT NULL DEFAULT 0,
    configs    INTEGER NOT NULL DEFAULT 0,
    warnings   INTEGER NOT NULL DEFAULT 0
);
`

// Entry is the indexed metadata of one stored snapshot.
type Entry struct {
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	Scope     string    `json:"scope"`
	Packages  int       `json:"packages"`
	Configs   int       `json:"configs"`
	Warnings  int       `json:"warnings"`
}

// Index is a SQLite-backed snapshot metadata index.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the index database at dbPath, enables WAL
// mode and a busy timeout, and creates the schema.
func OpenIndex(ctx context.Context, dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	// SQLite supports a single writer; one pooled connection avoids
	// SQLITE_BUSY contention between connections that each need their own
	// PRAGMA setup.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Put upserts one snapshot entry, keyed by filename.
func (ix *Index) Put(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO snapshots (filename, created_at, scope, packages, configs, warnings)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			created_at = excluded.created_at,
			scope      = excluded.scope,
			packages   = excluded.packages,
			configs    = excluded.configs,
			warnings   = excluded.warnings`
	if _, err := ix.db.ExecContext(ctx, q,
		e.Filename, e.CreatedAt.UTC().Format(time.RFC3339), e.Scope,
		e.Packages, e.Configs, e.Warnings); err != nil {
		return fmt.Errorf("index snapshot %s: %w", e.Filename, err)
	}
	return nil
}

// Has reports whether a filename is already indexed.
func (ix *Index) Has(ctx context.Context, filename string) (bool, error) {
	var one int
	err := ix.db.QueryRowContext(ctx,
		"SELECT 1 FROM snapshots WHERE filename = ?", filename).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query index for %s: %w", filename, err)
	}
	return true, nil
}

// List returns all entries, newest first.
func (ix *Index) List(ctx context.Context) ([]Entry, error) {
	const q = `
		SELECT filename, created_at, scope, packages, configs, warnings
		FROM snapshots ORDER BY created_at DESC, id DESC`
	rows, err := ix.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Filename, &created, &e.Scope, &e.Packages, &e.Configs, &e.Warnings); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index rows: %w", err)
	}
	return entries, nil
}
