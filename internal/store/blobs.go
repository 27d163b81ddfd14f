package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BlobRow holds note content. Content of protected notes is stored as-is
// (ciphertext); decryption is the caller's concern.
type BlobRow struct {
	BlobID          string
	Content         []byte
	DateModified    time.Time
	UTCDateModified time.Time
}

// UpsertBlob inserts or replaces a blob row keyed by blob_id.
func (c conn) UpsertBlob(ctx context.Context, row *BlobRow) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO blobs (blob_id, content, date_modified, utc_date_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(blob_id) DO UPDATE SET
			content = excluded.content, date_modified = excluded.date_modified,
			utc_date_modified = excluded.utc_date_modified
	`, row.BlobID, row.Content, formatLocal(row.DateModified), formatUTC(row.UTCDateModified))
	if err != nil {
		return fmt.Errorf("upsert blob %s: %w", row.BlobID, err)
	}
	return nil
}

// GetBlob returns a blob by id, or nil if not found.
func (c conn) GetBlob(ctx context.Context, blobID string) (*BlobRow, error) {
	var b BlobRow
	var dateModified, utcModified string
	err := c.q.QueryRowContext(ctx, `
		SELECT blob_id, content, date_modified, utc_date_modified FROM blobs WHERE blob_id = ?
	`, blobID).Scan(&b.BlobID, &b.Content, &dateModified, &utcModified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	b.DateModified = parseLocal(dateModified)
	b.UTCDateModified = parseUTC(utcModified)
	return &b, nil
}
