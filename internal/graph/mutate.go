package graph

import (
	"context"
	"fmt"

	"github.com/lazypower/canopy/internal/store"
)

// NewNote describes a note to create under a parent.
type NewNote struct {
	NoteID       string // generated when empty
	ParentNoteID string
	Title        string
	Type         NoteType
	Mime         string
	Content      []byte
	IsProtected  bool
	Prefix       string
	NotePosition *int // after the last child when nil
}

// CreateNote creates a note, its content blob and its branch under the
// parent in one transaction.
func (c *Cache) CreateNote(ctx context.Context, nn NewNote) (*Note, *Branch, error) {
	parent, err := c.GetNote(nn.ParentNoteID)
	if err != nil {
		return nil, nil, fmt.Errorf("parent: %w", err)
	}
	if parent.typ == TypeSearch {
		return nil, nil, invalid("note", nn.NoteID, "cannot create a note inside search note %s", parent.noteID)
	}

	id := nn.NoteID
	if id == "" {
		id = newID()
	}
	if c.notes[id] != nil || c.tombstones[id] != nil {
		return nil, nil, invalid("note", id, "id already in use")
	}

	typ := nn.Type
	if typ == "" {
		typ = TypeText
	}
	mime := nn.Mime
	if mime == "" {
		mime = DefaultMime(typ)
	}

	var note *Note
	var branch *Branch
	err = c.Transact(ctx, func(ctx context.Context) error {
		now := c.now()
		note = c.skeleton(id)
		note.fill(store.NoteRow{
			NoteID:          id,
			Title:           nn.Title,
			Type:            string(typ),
			Mime:            mime,
			IsProtected:     nn.IsProtected,
			BlobID:          newID(),
			DateCreated:     now,
			DateModified:    now,
			UTCDateCreated:  now.UTC(),
			UTCDateModified: now.UTC(),
		})
		if err := c.save(ctx, note); err != nil {
			return err
		}
		if err := c.writeBlob(ctx, note.blobID, nn.Content); err != nil {
			return err
		}

		var err error
		branch, err = c.createBranch(ctx, id, parent.noteID, nn.Prefix, nn.NotePosition)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	c.metrics.SetCacheNotes(len(c.notes))
	return note, branch, nil
}

// CloneNote places an existing note under an additional parent.
func (c *Cache) CloneNote(ctx context.Context, noteID, parentNoteID, prefix string) (*Branch, error) {
	return c.createBranch(ctx, noteID, parentNoteID, prefix, nil)
}

// MoveBranch moves the note of branchID under newParentNoteID, keeping its
// prefix. The branch id changes with the parent, so the old branch is
// deleted and the new one returned.
func (c *Cache) MoveBranch(ctx context.Context, branchID, newParentNoteID string) (*Branch, error) {
	b, err := c.GetBranch(branchID)
	if err != nil {
		return nil, err
	}
	if b.parentNoteID == newParentNoteID {
		return b, nil
	}
	if err := c.validateParentChild(newParentNoteID, b.noteID, b.branchID); err != nil {
		return nil, err
	}

	var moved *Branch
	err = c.Transact(ctx, func(ctx context.Context) error {
		var err error
		moved, err = c.createBranch(ctx, b.noteID, newParentNoteID, b.prefix, nil)
		if err != nil {
			return err
		}
		return c.markBranchDeleted(ctx, b, newID())
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// createBranch validates and persists a new branch. Strength follows the
// parent: weak under the share and bookmark roots, strong elsewhere.
func (c *Cache) createBranch(ctx context.Context, noteID, parentNoteID, prefix string, position *int) (*Branch, error) {
	if err := c.validateParentChild(parentNoteID, noteID, ""); err != nil {
		return nil, err
	}

	parent := c.notes[parentNoteID]
	var pos int
	if position != nil {
		pos = *position
	} else {
		pos = parent.MaxChildPosition() + 10
	}

	b := &Branch{
		entity:          entity{cache: c},
		branchID:        BranchID(parentNoteID, noteID),
		noteID:          noteID,
		parentNoteID:    parentNoteID,
		prefix:          prefix,
		notePosition:    pos,
		strength:        DefaultStrength(parentNoteID),
		utcDateModified: c.now().UTC(),
	}
	c.attachBranch(b)
	if err := c.save(ctx, b); err != nil {
		c.detachBranch(b)
		return nil, err
	}
	return b, nil
}

// validateParentChild checks that childNoteID may be placed under
// parentNoteID. branchID is the branch being moved, if any.
func (c *Cache) validateParentChild(parentNoteID, childNoteID, branchID string) error {
	if childNoteID == RootID {
		return invalid("branch", branchID, "cannot change the location of %s", childNoteID)
	}
	// The hidden root gets exactly one branch, the one that creates it.
	if hidden := c.notes[HiddenRootID]; childNoteID == HiddenRootID && hidden != nil && len(hidden.parentBranches) > 0 {
		return invalid("branch", branchID, "cannot change the location of %s", childNoteID)
	}
	if childNoteID == parentNoteID {
		return invalid("branch", branchID, "cannot place note %s into itself", childNoteID)
	}

	child, err := c.GetNote(childNoteID)
	if err != nil {
		return err
	}
	parent, err := c.GetNote(parentNoteID)
	if err != nil {
		return err
	}

	if existing := c.BranchFromChildAndParent(childNoteID, parentNoteID); existing != nil && existing.branchID != branchID {
		return invalid("branch", existing.branchID, "note %s is already in %s", childNoteID, parentNoteID)
	}
	if parent.HasAncestor(child.noteID) {
		return invalid("branch", branchID, "placing %s under %s would create a cycle", childNoteID, parentNoteID)
	}
	if parent.typ == TypeSearch && parentNoteID != BookmarksID {
		return invalid("branch", branchID, "cannot place a note into search note %s", parentNoteID)
	}
	return nil
}

// SetTitle changes the note title.
func (n *Note) SetTitle(ctx context.Context, title string) error {
	if n.title == title {
		return nil
	}
	old, oldLocal, oldUTC := n.title, n.dateModified, n.utcDateModified
	now := n.cache.now()
	n.title, n.dateModified, n.utcDateModified = title, now, now.UTC()
	n.invalidateThisCache()

	if err := n.cache.save(ctx, n); err != nil {
		n.title, n.dateModified, n.utcDateModified = old, oldLocal, oldUTC
		n.invalidateThisCache()
		return err
	}
	return nil
}

// SetContent replaces the note content. Content of protected notes is
// stored as given; encrypting it is the caller's job.
func (n *Note) SetContent(ctx context.Context, content []byte) error {
	c := n.cache
	return c.Transact(ctx, func(ctx context.Context) error {
		if n.blobID == "" {
			n.blobID = newID()
		}
		now := c.now()
		n.dateModified, n.utcDateModified = now, now.UTC()
		if err := c.writeBlob(ctx, n.blobID, content); err != nil {
			return err
		}
		return c.save(ctx, n)
	})
}

// AttributeSpec describes an attribute to add to a note.
type AttributeSpec struct {
	Type          AttributeType
	Name          string
	Value         string
	IsInheritable bool
	Position      *int // after the last effective attribute when nil
}

// AddAttribute validates, positions and persists a new owned attribute.
func (n *Note) AddAttribute(ctx context.Context, spec AttributeSpec) (*Attribute, error) {
	c := n.cache
	if n.isDeleted {
		return nil, fmt.Errorf("note %s: %w", n.noteID, ErrDeleted)
	}

	a := &Attribute{
		entity:          entity{cache: c},
		attributeID:     newID(),
		noteID:          n.noteID,
		typ:             spec.Type,
		name:            SanitizeAttributeName(spec.Name),
		value:           spec.Value,
		isInheritable:   spec.IsInheritable,
		utcDateModified: c.now().UTC(),
	}
	if err := c.validateAttribute(a); err != nil {
		return nil, err
	}

	if spec.Position != nil {
		a.position = *spec.Position
	} else {
		for _, existing := range n.resolveAttributes(nil) {
			a.position = max(a.position, existing.position)
		}
		a.position += 10
	}

	c.attachAttribute(a)
	if err := c.save(ctx, a); err != nil {
		c.detachAttribute(a)
		return nil, err
	}
	return a, nil
}

// SetAttribute makes sure the note owns an attribute of the given type and
// name with value. An existing attribute is updated only when its value
// differs; otherwise nothing is written.
func (n *Note) SetAttribute(ctx context.Context, typ AttributeType, name, value string) error {
	if !typ.Valid() {
		return invalid("attribute type", string(typ), "must be label or relation")
	}
	name = SanitizeAttributeName(name)

	a := n.OwnedAttribute(typ, name)
	if a == nil {
		_, err := n.AddAttribute(ctx, AttributeSpec{Type: typ, Name: name, Value: value})
		return err
	}
	if a.value == value {
		return nil
	}
	return n.cache.updateAttributeValue(ctx, a, value)
}

func (c *Cache) updateAttributeValue(ctx context.Context, a *Attribute, value string) error {
	old, oldModified := a.value, a.utcDateModified
	revert := func() {
		c.detachAttribute(a)
		a.value, a.utcDateModified = old, oldModified
		c.attachAttribute(a)
	}

	// Detach and reattach so the index and the relation target follow the value.
	c.detachAttribute(a)
	a.value, a.utcDateModified = value, c.now().UTC()
	if err := c.validateAttribute(a); err != nil {
		a.value, a.utcDateModified = old, oldModified
		c.attachAttribute(a)
		return err
	}
	c.attachAttribute(a)

	if err := c.save(ctx, a); err != nil {
		revert()
		return err
	}
	return nil
}

// RemoveAttribute deletes owned attributes of the given type and name, only
// those with the given value when one is passed.
func (n *Note) RemoveAttribute(ctx context.Context, typ AttributeType, name string, value ...string) error {
	if !typ.Valid() {
		return invalid("attribute type", string(typ), "must be label or relation")
	}
	name = SanitizeAttributeName(name)
	deleteID := newID()

	for _, a := range n.OwnedAttributesOf(typ, name) {
		if len(value) > 0 && a.value != value[0] {
			continue
		}
		if err := n.cache.deleteAttribute(ctx, a, deleteID); err != nil {
			return err
		}
	}
	return nil
}

// AddLabel adds a label even when one with the same name exists.
func (n *Note) AddLabel(ctx context.Context, name, value string, inheritable bool) (*Attribute, error) {
	return n.AddAttribute(ctx, AttributeSpec{Type: Label, Name: name, Value: value, IsInheritable: inheritable})
}

// AddRelation adds a relation to targetNoteID.
func (n *Note) AddRelation(ctx context.Context, name, targetNoteID string, inheritable bool) (*Attribute, error) {
	return n.AddAttribute(ctx, AttributeSpec{Type: Relation, Name: name, Value: targetNoteID, IsInheritable: inheritable})
}

func (n *Note) SetLabel(ctx context.Context, name, value string) error {
	return n.SetAttribute(ctx, Label, name, value)
}

func (n *Note) SetRelation(ctx context.Context, name, targetNoteID string) error {
	return n.SetAttribute(ctx, Relation, name, targetNoteID)
}

func (n *Note) RemoveLabel(ctx context.Context, name string, value ...string) error {
	return n.RemoveAttribute(ctx, Label, name, value...)
}

func (n *Note) RemoveRelation(ctx context.Context, name string, value ...string) error {
	return n.RemoveAttribute(ctx, Relation, name, value...)
}

// ToggleLabel sets the label when enabled and removes it otherwise.
func (n *Note) ToggleLabel(ctx context.Context, enabled bool, name, value string) error {
	if enabled {
		return n.SetLabel(ctx, name, value)
	}
	if value == "" {
		return n.RemoveLabel(ctx, name)
	}
	return n.RemoveLabel(ctx, name, value)
}

// MaxChildPosition returns the highest note position among the children.
func (n *Note) MaxChildPosition() int {
	pos := 0
	for _, b := range n.childBranches {
		pos = max(pos, b.notePosition)
	}
	return pos
}
