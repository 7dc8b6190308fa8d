package db_test

import (
	"path/filepath"
	"testing"

	"mapmatch/pkg/db"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	tables := map[string]bool{}
	rows, err := d.Query("SELECT name FROM sqlite_master WHERE type IN ('table', 'table')")
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		tables[name] = true
	}

	for _, want := range []string{"segments", "import_runs"} {
		if !tables[want] {
			t.Errorf("expected table %q to exist, got tables: %v", want, tables)
		}
	}
}

func TestInitIsIdempotent(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "db_test.db")

	d1, err := db.Init(path)
	if err != nil {
		t.Fatalf("first Init() failed: %v", err)
	}
	d1.Close()

	d2, err := db.Init(path)
	if err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	defer d2.Close()
}
