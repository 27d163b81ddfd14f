package store

import (
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestTablesExist(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	tables := []string{"schema_versions", "notes", "branches", "attributes", "blobs", "entity_changes"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestAttributeConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Valid insert
	_, err = db.Exec(`
		INSERT INTO attributes (attribute_id, note_id, type, name, utc_date_modified)
		VALUES ('a1', 'n1', 'label', 'archived', '2024-01-01 00:00:00.000Z')
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	// Invalid type
	_, err = db.Exec(`
		INSERT INTO attributes (attribute_id, note_id, type, name, utc_date_modified)
		VALUES ('a2', 'n1', 'tag', 'archived', '2024-01-01 00:00:00.000Z')
	`)
	if err == nil {
		t.Error("expected error for invalid type, got nil")
	}

	// Empty name
	_, err = db.Exec(`
		INSERT INTO attributes (attribute_id, note_id, type, name, utc_date_modified)
		VALUES ('a3', 'n1', 'label', '', '2024-01-01 00:00:00.000Z')
	`)
	if err == nil {
		t.Error("expected error for empty name, got nil")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, _ := db.SchemaVersion()
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}
