package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Branch strengths as stored.
const (
	StrengthStrong = "strong"
	StrengthWeak   = "weak"
)

// BranchRow is the persisted form of a parent-child placement.
type BranchRow struct {
	BranchID        string
	NoteID          string
	ParentNoteID    string
	NotePosition    int
	Prefix          string
	IsExpanded      bool
	Strength        string
	IsDeleted       bool
	DeleteID        string
	UTCDateModified time.Time
}

// UpsertBranch inserts or replaces a branch row keyed by branch_id.
func (c conn) UpsertBranch(ctx context.Context, row *BranchRow) error {
	strength := row.Strength
	if strength == "" {
		strength = StrengthStrong
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO branches (branch_id, note_id, parent_note_id, note_position, prefix, is_expanded,
			strength, is_deleted, delete_id, utc_date_modified)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(branch_id) DO UPDATE SET
			note_id = excluded.note_id, parent_note_id = excluded.parent_note_id,
			note_position = excluded.note_position, prefix = excluded.prefix,
			is_expanded = excluded.is_expanded, strength = excluded.strength,
			is_deleted = excluded.is_deleted, delete_id = excluded.delete_id,
			utc_date_modified = excluded.utc_date_modified
	`, row.BranchID, row.NoteID, row.ParentNoteID, row.NotePosition, row.Prefix,
		boolInt(row.IsExpanded), strength, boolInt(row.IsDeleted), row.DeleteID,
		formatUTC(row.UTCDateModified))
	if err != nil {
		return fmt.Errorf("upsert branch %s: %w", row.BranchID, err)
	}
	return nil
}

// GetBranch returns a branch row by id (deleted or not), or nil if not found.
func (db *DB) GetBranch(ctx context.Context, branchID string) (*BranchRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT branch_id, note_id, parent_note_id, note_position, prefix, is_expanded,
			strength, is_deleted, delete_id, utc_date_modified
		FROM branches WHERE branch_id = ?
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	defer rows.Close()

	branches, err := scanBranches(rows)
	if err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		return nil, nil
	}
	return &branches[0], nil
}

func scanBranches(rows *sql.Rows) ([]BranchRow, error) {
	var branches []BranchRow
	for rows.Next() {
		var b BranchRow
		var isExpanded, isDeleted int
		var prefix, deleteID sql.NullString
		var utcModified string
		if err := rows.Scan(&b.BranchID, &b.NoteID, &b.ParentNoteID, &b.NotePosition, &prefix,
			&isExpanded, &b.Strength, &isDeleted, &deleteID, &utcModified); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		b.Prefix = prefix.String
		b.IsExpanded = isExpanded != 0
		b.IsDeleted = isDeleted != 0
		b.DeleteID = deleteID.String
		b.UTCDateModified = parseUTC(utcModified)
		branches = append(branches, b)
	}
	return branches, rows.Err()
}
