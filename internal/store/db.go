package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the canopy SQLite database.
type DB struct {
	*sql.DB
	Path string
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DefaultDBPath returns the default database path: ~/.canopy/canopy.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".canopy", "canopy.db"), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA mmap_size=268435456", // 256MB
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Conn is the read/write surface the graph cache persists through.
// *DB satisfies it directly; Transact hands callbacks a transaction-bound Conn.
type Conn interface {
	UpsertNote(ctx context.Context, row *NoteRow) error
	UpsertBranch(ctx context.Context, row *BranchRow) error
	UpsertAttribute(ctx context.Context, row *AttributeRow) error
	UpsertBlob(ctx context.Context, row *BlobRow) error
	GetBlob(ctx context.Context, blobID string) (*BlobRow, error)
	RecordChange(ctx context.Context, change *EntityChange) error
}

// conn implements Conn over either the pool or a transaction.
type conn struct {
	q querier
}

func (db *DB) conn() conn { return conn{q: db.DB} }

// UpsertNote inserts or replaces a note row keyed by note_id.
func (db *DB) UpsertNote(ctx context.Context, row *NoteRow) error {
	return db.conn().UpsertNote(ctx, row)
}

// UpsertBranch inserts or replaces a branch row keyed by branch_id.
func (db *DB) UpsertBranch(ctx context.Context, row *BranchRow) error {
	return db.conn().UpsertBranch(ctx, row)
}

// UpsertAttribute inserts or replaces an attribute row keyed by attribute_id.
func (db *DB) UpsertAttribute(ctx context.Context, row *AttributeRow) error {
	return db.conn().UpsertAttribute(ctx, row)
}

// UpsertBlob inserts or replaces a blob row keyed by blob_id.
func (db *DB) UpsertBlob(ctx context.Context, row *BlobRow) error {
	return db.conn().UpsertBlob(ctx, row)
}

// GetBlob returns a blob by id, or nil if not found.
func (db *DB) GetBlob(ctx context.Context, blobID string) (*BlobRow, error) {
	return db.conn().GetBlob(ctx, blobID)
}

// RecordChange upserts the entity_changes row for an entity.
func (db *DB) RecordChange(ctx context.Context, change *EntityChange) error {
	return db.conn().RecordChange(ctx, change)
}

// Transact runs fn inside a single SQLite transaction. All writes made
// through the Conn passed to fn commit together or not at all.
func (db *DB) Transact(ctx context.Context, fn func(Conn) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(conn{q: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
