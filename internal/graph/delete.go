package graph

import (
	"context"
	"fmt"
)

// OnBeforeNoteDelete registers fn to run when a note is about to be
// deleted, while its attributes and remaining branches are still in place.
func (c *Cache) OnBeforeNoteDelete(fn func(*Note)) {
	c.beforeDelete = append(c.beforeDelete, fn)
}

// DeleteBranch soft-deletes a branch. When it was the note's last strong
// branch the note and its subtree are deleted too; the result reports
// whether that happened.
func (c *Cache) DeleteBranch(ctx context.Context, branchID string) (bool, error) {
	b, err := c.GetBranch(branchID)
	if err != nil {
		return false, err
	}

	var noteDeleted bool
	err = c.Transact(ctx, func(ctx context.Context) error {
		var err error
		noteDeleted, err = c.deleteBranch(ctx, b, newID())
		return err
	})
	return noteDeleted, err
}

// DeleteNote deletes the note with all of its branches, and with it every
// descendant that has no other strong parent.
func (c *Cache) DeleteNote(ctx context.Context, noteID string) error {
	note, err := c.GetNote(noteID)
	if err != nil {
		return err
	}
	if note.IsRoot() {
		return invalid("note", noteID, "cannot delete root")
	}

	deleteID := newID()
	return c.Transact(ctx, func(ctx context.Context) error {
		for _, b := range note.ParentBranches() {
			if b.IsDeleted() {
				continue
			}
			if _, err := c.deleteBranch(ctx, b, deleteID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) deleteBranch(ctx context.Context, b *Branch, deleteID string) (bool, error) {
	if b.noteID == RootID {
		return false, invalid("branch", b.branchID, "cannot delete root")
	}

	note := c.notes[b.noteID]
	last := note != nil && isLastStrong(note, b)
	if last {
		for _, hook := range c.beforeDelete {
			hook(note)
		}
	}

	if err := c.markBranchDeleted(ctx, b, deleteID); err != nil {
		return false, err
	}
	if !last {
		return false, nil
	}

	for _, weak := range note.ParentBranches() {
		if err := c.markBranchDeleted(ctx, weak, deleteID); err != nil {
			return false, err
		}
	}
	// Children first, so change records list them before their parent.
	for _, child := range note.ChildBranches() {
		if child.IsDeleted() {
			continue
		}
		if _, err := c.deleteBranch(ctx, child, deleteID); err != nil {
			return false, err
		}
	}

	c.logger.Info("deleting note", "note_id", note.noteID, "delete_id", deleteID)
	note.isBeingDeleted = true

	for _, a := range note.OwnedAttributes() {
		if err := c.deleteAttribute(ctx, a, deleteID); err != nil {
			return false, err
		}
	}
	for _, rel := range note.TargetRelations() {
		if err := c.deleteAttribute(ctx, rel, deleteID); err != nil {
			return false, err
		}
	}

	note.isDeleted, note.deleteID = true, deleteID
	now := c.now()
	note.dateModified, note.utcDateModified = now, now.UTC()
	if err := c.save(ctx, note); err != nil {
		return false, fmt.Errorf("delete note %s: %w", note.noteID, err)
	}
	c.noteDeleted(note)
	return true, nil
}

// isLastStrong reports whether removing b leaves note without a strong parent.
func isLastStrong(note *Note, b *Branch) bool {
	strong := note.StrongParentBranches()
	return len(strong) == 0 || (len(strong) == 1 && strong[0] == b)
}

func (c *Cache) markBranchDeleted(ctx context.Context, b *Branch, deleteID string) error {
	b.isDeleted, b.deleteID = true, deleteID
	b.utcDateModified = c.now().UTC()
	if err := c.save(ctx, b); err != nil {
		b.isDeleted, b.deleteID = false, ""
		return fmt.Errorf("delete branch %s: %w", b.branchID, err)
	}
	c.detachBranch(b)
	return nil
}

func (c *Cache) deleteAttribute(ctx context.Context, a *Attribute, deleteID string) error {
	a.isDeleted, a.deleteID = true, deleteID
	a.utcDateModified = c.now().UTC()
	if err := c.save(ctx, a); err != nil {
		a.isDeleted, a.deleteID = false, ""
		return fmt.Errorf("delete attribute %s: %w", a.attributeID, err)
	}
	c.detachAttribute(a)
	return nil
}
