package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AttributeRow is the persisted form of a label or relation.
type AttributeRow struct {
	AttributeID     string
	NoteID          string
	Type            string // "label" or "relation"
	Name            string
	Value           string
	Position        int
	IsInheritable   bool
	IsDeleted       bool
	DeleteID        string
	UTCDateModified time.Time
}

// UpsertAttribute inserts or replaces an attribute row keyed by attribute_id.
func (c conn) UpsertAttribute(ctx context.Context, row *AttributeRow) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO attributes (attribute_id, note_id, type, name, value, position, is_inheritable,
			is_deleted, delete_id, utc_date_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(attribute_id) DO UPDATE SET
			note_id = excluded.note_id, type = excluded.type, name = excluded.name,
			value = excluded.value, position = excluded.position,
			is_inheritable = excluded.is_inheritable, is_deleted = excluded.is_deleted,
			delete_id = excluded.delete_id, utc_date_modified = excluded.utc_date_modified
	`, row.AttributeID, row.NoteID, row.Type, row.Name, row.Value, row.Position,
		boolInt(row.IsInheritable), boolInt(row.IsDeleted), row.DeleteID,
		formatUTC(row.UTCDateModified))
	if err != nil {
		return fmt.Errorf("upsert attribute %s: %w", row.AttributeID, err)
	}
	return nil
}

// FindAttributesByName returns non-deleted attributes of a type whose name
// matches case-insensitively, ordered by note and position.
func (db *DB) FindAttributesByName(ctx context.Context, attrType, name string) ([]AttributeRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT attribute_id, note_id, type, name, value, position, is_inheritable,
			is_deleted, delete_id, utc_date_modified
		FROM attributes
		WHERE type = ? AND name = ? COLLATE NOCASE AND is_deleted = 0
		ORDER BY note_id, position
	`, attrType, name)
	if err != nil {
		return nil, fmt.Errorf("find attributes: %w", err)
	}
	defer rows.Close()
	return scanAttributes(rows)
}

func scanAttributes(rows *sql.Rows) ([]AttributeRow, error) {
	var attrs []AttributeRow
	for rows.Next() {
		var a AttributeRow
		var isInheritable, isDeleted int
		var deleteID sql.NullString
		var utcModified string
		if err := rows.Scan(&a.AttributeID, &a.NoteID, &a.Type, &a.Name, &a.Value, &a.Position,
			&isInheritable, &isDeleted, &deleteID, &utcModified); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		a.IsInheritable = isInheritable != 0
		a.IsDeleted = isDeleted != 0
		a.DeleteID = deleteID.String
		a.UTCDateModified = parseUTC(utcModified)
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}
