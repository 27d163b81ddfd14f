package graph

import (
	"context"
	"strconv"
	"time"

	"github.com/lazypower/canopy/internal/store"
)

// Strength tags a branch as real parentage or an implicit placement.
// A note whose only remaining branches are weak is deleted along with its
// last strong branch.
type Strength string

const (
	Strong Strength = store.StrengthStrong
	Weak   Strength = store.StrengthWeak
)

// Reserved note ids.
const (
	RootID       = "root"
	HiddenRootID = "_hidden"
	ShareRootID  = "_share"
	BookmarksID  = "_lbBookmarks"
)

// weakParents get weak branches by default.
var weakParents = map[string]bool{
	ShareRootID: true,
	BookmarksID: true,
}

// DefaultStrength returns the strength a new branch under parentNoteID gets.
func DefaultStrength(parentNoteID string) Strength {
	if weakParents[parentNoteID] {
		return Weak
	}
	return Strong
}

// BranchID returns the id of the branch placing noteID under parentNoteID.
func BranchID(parentNoteID, noteID string) string {
	return parentNoteID + "_" + noteID
}

// Branch places a note under one parent.
type Branch struct {
	entity

	branchID        string
	noteID          string
	parentNoteID    string
	prefix          string
	notePosition    int
	isExpanded      bool
	strength        Strength
	isDeleted       bool
	deleteID        string
	utcDateModified time.Time
}

func (b *Branch) ID() string                 { return b.branchID }
func (b *Branch) NoteID() string             { return b.noteID }
func (b *Branch) ParentNoteID() string       { return b.parentNoteID }
func (b *Branch) Prefix() string             { return b.prefix }
func (b *Branch) NotePosition() int          { return b.notePosition }
func (b *Branch) IsExpanded() bool           { return b.isExpanded }
func (b *Branch) Strength() Strength         { return b.strength }
func (b *Branch) IsWeak() bool               { return b.strength == Weak }
func (b *Branch) UTCDateModified() time.Time { return b.utcDateModified }

// IsDeleted reports whether the branch is no longer registered in the cache.
func (b *Branch) IsDeleted() bool {
	return b.cache == nil || b.cache.branches[b.branchID] != b
}

// ChildNote returns the placed note.
func (b *Branch) ChildNote() *Note { return b.cache.notes[b.noteID] }

// ParentNote returns the parent note.
func (b *Branch) ParentNote() *Note { return b.cache.notes[b.parentNoteID] }

// SetPrefix changes the display prefix of the child under this parent.
func (b *Branch) SetPrefix(ctx context.Context, prefix string) error {
	if b.prefix == prefix {
		return nil
	}
	b.prefix = prefix
	b.utcDateModified = b.cache.now().UTC()
	if child := b.ChildNote(); child != nil {
		child.invalidateThisCache()
	}
	return b.cache.save(ctx, b)
}

// SetExpanded records the UI expansion state.
func (b *Branch) SetExpanded(ctx context.Context, expanded bool) error {
	if b.isExpanded == expanded {
		return nil
	}
	b.isExpanded = expanded
	b.utcDateModified = b.cache.now().UTC()
	return b.cache.save(ctx, b)
}

func (b *Branch) row() *store.BranchRow {
	return &store.BranchRow{
		BranchID:        b.branchID,
		NoteID:          b.noteID,
		ParentNoteID:    b.parentNoteID,
		NotePosition:    b.notePosition,
		Prefix:          b.prefix,
		IsExpanded:      b.isExpanded,
		Strength:        string(b.strength),
		IsDeleted:       b.isDeleted,
		DeleteID:        b.deleteID,
		UTCDateModified: b.utcDateModified,
	}
}

func branchFromRow(r store.BranchRow) *Branch {
	strength := Strength(r.Strength)
	if strength != Weak {
		strength = Strong
	}
	return &Branch{
		branchID:        r.BranchID,
		noteID:          r.NoteID,
		parentNoteID:    r.ParentNoteID,
		prefix:          r.Prefix,
		notePosition:    r.NotePosition,
		isExpanded:      r.IsExpanded,
		strength:        strength,
		isDeleted:       r.IsDeleted,
		deleteID:        r.DeleteID,
		utcDateModified: r.UTCDateModified,
	}
}

func (b *Branch) entityName() string  { return entityBranches }
func (b *Branch) entityID() string    { return b.branchID }
func (b *Branch) ownerNoteID() string { return b.noteID }
func (b *Branch) deleted() bool       { return b.isDeleted }

func (b *Branch) hashFields() []string {
	return []string{
		b.branchID, b.noteID, b.parentNoteID, b.prefix,
		strconv.Itoa(b.notePosition), strconv.FormatBool(b.isExpanded),
		string(b.strength), strconv.FormatBool(b.isDeleted),
	}
}

func (b *Branch) write(ctx context.Context, conn store.Conn) error {
	return conn.UpsertBranch(ctx, b.row())
}
