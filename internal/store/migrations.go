package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "notes, branches, attributes: the note graph",
		SQL: `
CREATE TABLE notes (
    note_id           TEXT PRIMARY KEY,
    title             TEXT NOT NULL DEFAULT '',
    type              TEXT NOT NULL DEFAULT 'text',
    mime              TEXT NOT NULL DEFAULT '',
    is_protected      INTEGER NOT NULL DEFAULT 0,
    blob_id           TEXT,

    -- Soft delete
    is_deleted        INTEGER NOT NULL DEFAULT 0,
    delete_id         TEXT,

    date_created      TEXT NOT NULL,
    date_modified     TEXT NOT NULL,
    utc_date_created  TEXT NOT NULL,
    utc_date_modified TEXT NOT NULL
);

CREATE TABLE branches (
    branch_id         TEXT PRIMARY KEY,
    note_id           TEXT NOT NULL,
    parent_note_id    TEXT NOT NULL,
    note_position     INTEGER NOT NULL DEFAULT 0,
    prefix            TEXT,
    is_expanded       INTEGER NOT NULL DEFAULT 0,
    strength          TEXT NOT NULL DEFAULT 'strong' CHECK (strength IN ('strong', 'weak')),
    is_deleted        INTEGER NOT NULL DEFAULT 0,
    delete_id         TEXT,
    utc_date_modified TEXT NOT NULL
);

CREATE UNIQUE INDEX idx_branches_child_parent ON branches(note_id, parent_note_id) WHERE is_deleted = 0;
CREATE INDEX idx_branches_parent ON branches(parent_note_id);

CREATE TABLE attributes (
    attribute_id      TEXT PRIMARY KEY,
    note_id           TEXT NOT NULL,
    type              TEXT NOT NULL CHECK (type IN ('label', 'relation')),
    name              TEXT NOT NULL CHECK (name != ''),
    value             TEXT NOT NULL DEFAULT '',
    position          INTEGER NOT NULL DEFAULT 0,
    is_inheritable    INTEGER NOT NULL DEFAULT 0,
    is_deleted        INTEGER NOT NULL DEFAULT 0,
    delete_id         TEXT,
    utc_date_modified TEXT NOT NULL
);

CREATE INDEX idx_attributes_note ON attributes(note_id);
CREATE INDEX idx_attributes_name ON attributes(type, name COLLATE NOCASE);
`,
	},
	{
		Version:     2,
		Description: "blobs: lazily loaded note content",
		SQL: `
CREATE TABLE blobs (
    blob_id           TEXT PRIMARY KEY,
    content           BLOB,
    date_modified     TEXT NOT NULL,
    utc_date_modified TEXT NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "entity_changes: per-entity change hashes for sync",
		SQL: `
CREATE TABLE entity_changes (
    id               INTEGER PRIMARY KEY,
    entity_name      TEXT NOT NULL,
    entity_id        TEXT NOT NULL,
    hash             TEXT NOT NULL,
    is_erased        INTEGER NOT NULL DEFAULT 0,
    change_id        TEXT NOT NULL,
    utc_date_changed TEXT NOT NULL,
    UNIQUE (entity_name, entity_id)
);

CREATE INDEX idx_entity_changes_changed ON entity_changes(utc_date_changed);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
