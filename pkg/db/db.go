// Package db opens the SQLite spatial store and runs its migrations: the
// segments table, its R*Tree bounding-box index, and a small import-history
// table the road-network importer appends to.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DB wraps the sql.DB connection to the spatial store.
type DB struct {
	*sql.DB
}

// Init opens the database at path and runs migrations, creating the file
// and its parent directory if necessary.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{sqlDB}
	// The matcher only ever reads; the importer is the sole writer and runs
	// single-shot, so one connection avoids SQLITE_BUSY without a pool.
	sqlDB.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS segments (
			id INTEGER PRIMARY KEY,
			segment_id INTEGER NOT NULL,
			oneway INTEGER NOT NULL DEFAULT 0,
			speed_limit_kph REAL NOT NULL DEFAULT 0,
			geometry BLOB NOT NULL
		);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS rtree_segments_geometry USING rtree(
			id,
			minX, maxX,
			minY, maxY
		);`,
		`CREATE TABLE IF NOT EXISTS import_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			segment_count INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	return nil
}
