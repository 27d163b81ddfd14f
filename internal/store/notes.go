package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Timestamp layouts. Local dates keep their zone offset so the note can be
// shown in the author's time; UTC dates are what sync and ordering use.
const (
	LocalDateLayout = "2006-01-02 15:04:05.000-0700"
	UTCDateLayout   = "2006-01-02 15:04:05.000Z"
)

func formatLocal(t time.Time) string { return t.Format(LocalDateLayout) }
func formatUTC(t time.Time) string   { return t.UTC().Format(UTCDateLayout) }

func parseLocal(s string) time.Time {
	t, err := time.Parse(LocalDateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseUTC(s string) time.Time {
	t, err := time.ParseInLocation(UTCDateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NoteRow is the persisted form of a note.
type NoteRow struct {
	NoteID          string
	Title           string
	Type            string
	Mime            string
	IsProtected     bool
	BlobID          string
	IsDeleted       bool
	DeleteID        string
	DateCreated     time.Time
	DateModified    time.Time
	UTCDateCreated  time.Time
	UTCDateModified time.Time
}

// UpsertNote inserts or replaces a note row keyed by note_id.
func (c conn) UpsertNote(ctx context.Context, row *NoteRow) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO notes (note_id, title, type, mime, is_protected, blob_id, is_deleted, delete_id,
			date_created, date_modified, utc_date_created, utc_date_modified)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			title = excluded.title, type = excluded.type, mime = excluded.mime,
			is_protected = excluded.is_protected, blob_id = excluded.blob_id,
			is_deleted = excluded.is_deleted, delete_id = excluded.delete_id,
			date_modified = excluded.date_modified, utc_date_modified = excluded.utc_date_modified
	`, row.NoteID, row.Title, row.Type, row.Mime, boolInt(row.IsProtected), row.BlobID,
		boolInt(row.IsDeleted), row.DeleteID,
		formatLocal(row.DateCreated), formatLocal(row.DateModified),
		formatUTC(row.UTCDateCreated), formatUTC(row.UTCDateModified))
	if err != nil {
		return fmt.Errorf("upsert note %s: %w", row.NoteID, err)
	}
	return nil
}

// GetNote returns a note row by id (deleted or not), or nil if not found.
func (db *DB) GetNote(ctx context.Context, noteID string) (*NoteRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT note_id, title, type, mime, is_protected, blob_id, is_deleted, delete_id,
			date_created, date_modified, utc_date_created, utc_date_modified
		FROM notes WHERE note_id = ?
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return &notes[0], nil
}

func scanNotes(rows *sql.Rows) ([]NoteRow, error) {
	var notes []NoteRow
	for rows.Next() {
		var n NoteRow
		var isProtected, isDeleted int
		var blobID, deleteID sql.NullString
		var dateCreated, dateModified, utcCreated, utcModified string
		if err := rows.Scan(&n.NoteID, &n.Title, &n.Type, &n.Mime, &isProtected, &blobID,
			&isDeleted, &deleteID, &dateCreated, &dateModified, &utcCreated, &utcModified); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.IsProtected = isProtected != 0
		n.IsDeleted = isDeleted != 0
		n.BlobID = blobID.String
		n.DeleteID = deleteID.String
		n.DateCreated = parseLocal(dateCreated)
		n.DateModified = parseLocal(dateModified)
		n.UTCDateCreated = parseUTC(utcCreated)
		n.UTCDateModified = parseUTC(utcModified)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
