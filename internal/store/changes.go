package store

import (
	"context"
	"fmt"
	"time"
)

// EntityChange records the latest content hash of an entity. Sync reads
// these rows to decide what to push; there is one row per entity.
type EntityChange struct {
	ID             int64
	EntityName     string // "notes", "branches", "attributes", "blobs"
	EntityID       string
	Hash           string
	IsErased       bool
	ChangeID       string
	UTCDateChanged time.Time
}

// RecordChange upserts the entity_changes row for an entity.
func (c conn) RecordChange(ctx context.Context, change *EntityChange) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO entity_changes (entity_name, entity_id, hash, is_erased, change_id, utc_date_changed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_name, entity_id) DO UPDATE SET
			hash = excluded.hash, is_erased = excluded.is_erased,
			change_id = excluded.change_id, utc_date_changed = excluded.utc_date_changed
	`, change.EntityName, change.EntityID, change.Hash, boolInt(change.IsErased),
		change.ChangeID, formatUTC(change.UTCDateChanged))
	if err != nil {
		return fmt.Errorf("record change %s/%s: %w", change.EntityName, change.EntityID, err)
	}
	return nil
}

// EntityChanges returns change rows with id greater than sinceID, oldest first.
func (db *DB) EntityChanges(ctx context.Context, sinceID int64) ([]EntityChange, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, entity_name, entity_id, hash, is_erased, change_id, utc_date_changed
		FROM entity_changes WHERE id > ?
		ORDER BY id
	`, sinceID)
	if err != nil {
		return nil, fmt.Errorf("list entity changes: %w", err)
	}
	defer rows.Close()

	var changes []EntityChange
	for rows.Next() {
		var ch EntityChange
		var isErased int
		var changed string
		if err := rows.Scan(&ch.ID, &ch.EntityName, &ch.EntityID, &ch.Hash, &isErased,
			&ch.ChangeID, &changed); err != nil {
			return nil, fmt.Errorf("scan entity change: %w", err)
		}
		ch.IsErased = isErased != 0
		ch.UTCDateChanged = parseUTC(changed)
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}
