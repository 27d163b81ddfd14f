package store

import (
	"context"
	"fmt"
)

// Snapshot is the full set of live rows needed to build the graph cache.
type Snapshot struct {
	Notes      []NoteRow
	Branches   []BranchRow
	Attributes []AttributeRow
}

// LoadAll reads every non-deleted note, branch and attribute. Rows come back
// in dependency order (notes, then branches, then attributes by position),
// though the cache tolerates any order.
func (db *DB) LoadAll(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	noteRows, err := db.QueryContext(ctx, `
		SELECT note_id, title, type, mime, is_protected, blob_id, is_deleted, delete_id,
			date_created, date_modified, utc_date_created, utc_date_modified
		FROM notes WHERE is_deleted = 0
		ORDER BY note_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	snap.Notes, err = scanNotes(noteRows)
	noteRows.Close()
	if err != nil {
		return nil, err
	}

	branchRows, err := db.QueryContext(ctx, `
		SELECT branch_id, note_id, parent_note_id, note_position, prefix, is_expanded,
			strength, is_deleted, delete_id, utc_date_modified
		FROM branches WHERE is_deleted = 0
		ORDER BY parent_note_id, note_position
	`)
	if err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}
	snap.Branches, err = scanBranches(branchRows)
	branchRows.Close()
	if err != nil {
		return nil, err
	}

	attrRows, err := db.QueryContext(ctx, `
		SELECT attribute_id, note_id, type, name, value, position, is_inheritable,
			is_deleted, delete_id, utc_date_modified
		FROM attributes WHERE is_deleted = 0
		ORDER BY note_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("load attributes: %w", err)
	}
	snap.Attributes, err = scanAttributes(attrRows)
	attrRows.Close()
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// Counts returns the number of live notes, branches and attributes.
func (db *DB) Counts(ctx context.Context) (notes, branches, attributes int, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM notes WHERE is_deleted = 0),
			(SELECT COUNT(*) FROM branches WHERE is_deleted = 0),
			(SELECT COUNT(*) FROM attributes WHERE is_deleted = 0)
	`).Scan(&notes, &branches, &attributes)
	if err != nil {
		err = fmt.Errorf("count rows: %w", err)
	}
	return
}
