// Package graph holds the in-memory note graph: notes, the branches placing
// them under parents, and the attributes they own. It is loaded once from the
// store and kept live by the mutation methods, which persist each change and
// invalidate the derived views that depend on it.
//
// A Cache is not safe for concurrent use. Callers serialize through
// Exclusive.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/canopy/internal/events"
	"github.com/lazypower/canopy/internal/metrics"
	"github.com/lazypower/canopy/internal/protect"
	"github.com/lazypower/canopy/internal/store"
	"golang.org/x/sync/semaphore"
)

// Store is the persistence the cache loads from and writes through.
// *store.DB satisfies it.
type Store interface {
	store.Conn
	LoadAll(ctx context.Context) (*store.Snapshot, error)
	Transact(ctx context.Context, fn func(store.Conn) error) error
}

// Cache is the registry of every loaded note, branch and attribute.
type Cache struct {
	store    Store
	logger   *slog.Logger
	clock    func() time.Time
	bus      *events.Bus
	session  protect.Session
	metrics  *metrics.Metrics
	resolver SearchResolver
	sem      *semaphore.Weighted

	notes               map[string]*Note
	branches            map[string]*Branch
	childParentToBranch map[string]*Branch
	attributes          map[string]*Attribute
	attributeIndex      map[string][]*Attribute
	tombstones          map[string]*Note
	// relations whose target note has not been registered yet
	pendingRelations map[string][]*Attribute
	// content for the memory-only mode
	blobs map[string][]byte

	tx           *txState
	loading      bool
	beforeDelete []func(*Note)
}

// New creates an empty cache. Call Load before use.
func New(opts ...Option) *Cache {
	c := &Cache{
		logger:  slog.Default(),
		clock:   time.Now,
		session: protect.Locked{},
		sem:     semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "graph")
	c.Reset()
	// Starting or ending the session changes every protected title.
	if n, ok := c.session.(protect.Notifier); ok {
		n.OnChange(c.InvalidateProtectedNotes)
	}
	return c
}

// SetSearchResolver sets the resolver used for search notes. The search
// service is built on top of the cache, so it is wired after New.
func (c *Cache) SetSearchResolver(r SearchResolver) { c.resolver = r }

// Logger returns the cache logger.
func (c *Cache) Logger() *slog.Logger { return c.logger }

// Now returns the current time on the cache clock.
func (c *Cache) Now() time.Time { return c.clock() }

func (c *Cache) now() time.Time { return c.clock() }

// Reset clears every index. Pointers obtained before Reset are stale.
func (c *Cache) Reset() {
	c.notes = make(map[string]*Note)
	c.branches = make(map[string]*Branch)
	c.childParentToBranch = make(map[string]*Branch)
	c.attributes = make(map[string]*Attribute)
	c.attributeIndex = make(map[string][]*Attribute)
	c.tombstones = make(map[string]*Note)
	c.pendingRelations = make(map[string][]*Attribute)
	c.blobs = make(map[string][]byte)
}

// Load rebuilds the cache from the store and makes sure a root note exists.
func (c *Cache) Load(ctx context.Context) error {
	start := time.Now()
	c.Reset()

	if c.store != nil {
		snap, err := c.store.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("load cache: %w", err)
		}
		c.populate(snap)
	}

	if err := c.ensureRoot(ctx); err != nil {
		return fmt.Errorf("ensure root: %w", err)
	}

	for id, n := range c.notes {
		if n.skeleton {
			c.logger.Warn("note referenced but never loaded", "note_id", id)
		}
	}

	elapsed := time.Since(start)
	c.metrics.ObserveCacheLoad(elapsed, len(c.notes))
	c.logger.Info("cache loaded",
		"notes", len(c.notes),
		"branches", len(c.branches),
		"attributes", len(c.attributes),
		"duration", elapsed,
	)
	return nil
}

// populate registers snapshot rows without per-row invalidation; nothing is
// memoized while loading.
func (c *Cache) populate(snap *store.Snapshot) {
	c.loading = true
	defer func() { c.loading = false }()

	for _, row := range snap.Notes {
		c.AddNote(row)
	}
	for _, row := range snap.Branches {
		c.AddBranch(row)
	}
	for _, row := range snap.Attributes {
		c.AddAttribute(row)
	}
}

func (c *Cache) ensureRoot(ctx context.Context) error {
	if root := c.notes[RootID]; root != nil && !root.skeleton {
		return nil
	}
	now := c.now()
	root := c.skeleton(RootID)
	root.fill(store.NoteRow{
		NoteID:          RootID,
		Title:           "root",
		Type:            string(TypeText),
		Mime:            DefaultMime(TypeText),
		DateCreated:     now,
		DateModified:    now,
		UTCDateCreated:  now.UTC(),
		UTCDateModified: now.UTC(),
	})
	return c.save(ctx, root)
}

func childParentKey(childNoteID, parentNoteID string) string {
	return childNoteID + "-" + parentNoteID
}

// skeleton returns the note registered under id, registering a placeholder
// when the id is only known by reference so far.
func (c *Cache) skeleton(id string) *Note {
	if n := c.notes[id]; n != nil {
		return n
	}
	n := &Note{entity: entity{cache: c}, noteID: id, skeleton: true}
	c.notes[id] = n
	return n
}

// AddNote registers a note row, completing a placeholder in place when the
// note was referenced before it arrived. A deleted row removes the note.
// AddNote does not persist.
func (c *Cache) AddNote(row store.NoteRow) *Note {
	if row.IsDeleted {
		if n := c.notes[row.NoteID]; n != nil {
			n.isDeleted, n.deleteID = true, row.DeleteID
			c.noteDeleted(n)
		}
		return nil
	}

	n := c.skeleton(row.NoteID)
	n.fill(row)
	n.hash = contentHash(n.hashFields())
	delete(c.tombstones, row.NoteID)

	if pending := c.pendingRelations[row.NoteID]; len(pending) > 0 {
		n.targetRelations = append(n.targetRelations, pending...)
		delete(c.pendingRelations, row.NoteID)
	}
	if !c.loading {
		n.invalidateSubtree()
	}
	return n
}

// AddBranch registers a branch row, replacing an earlier version of the same
// branch. A deleted row removes the branch. AddBranch does not persist.
func (c *Cache) AddBranch(row store.BranchRow) *Branch {
	if old := c.branches[row.BranchID]; old != nil {
		c.detachBranch(old)
	}
	if row.IsDeleted {
		return nil
	}
	b := branchFromRow(row)
	b.cache = c
	b.hash = contentHash(b.hashFields())
	c.attachBranch(b)
	return b
}

// AddAttribute registers an attribute row, replacing an earlier version of
// the same attribute. A deleted row removes the attribute. AddAttribute does
// not persist.
func (c *Cache) AddAttribute(row store.AttributeRow) *Attribute {
	if old := c.attributes[row.AttributeID]; old != nil {
		c.detachAttribute(old)
	}
	if row.IsDeleted {
		return nil
	}
	a := attributeFromRow(row)
	a.cache = c
	a.hash = contentHash(a.hashFields())
	c.attachAttribute(a)
	return a
}

// attachBranch wires b into the registry and both of its notes.
func (c *Cache) attachBranch(b *Branch) {
	c.branches[b.branchID] = b
	c.childParentToBranch[childParentKey(b.noteID, b.parentNoteID)] = b

	child := c.skeleton(b.noteID)
	if !slices.Contains(child.parentBranches, b) {
		child.parentBranches = append(child.parentBranches, b)
	}

	parent := c.skeleton(b.parentNoteID)
	if !slices.Contains(parent.childBranches, b) {
		i := sort.Search(len(parent.childBranches), func(i int) bool {
			return parent.childBranches[i].notePosition > b.notePosition
		})
		parent.childBranches = slices.Insert(parent.childBranches, i, b)
	}

	if !c.loading {
		child.invalidateSubtree()
	}
}

// detachBranch unwires b from the registry and both of its notes.
func (c *Cache) detachBranch(b *Branch) {
	if child := c.notes[b.noteID]; child != nil {
		child.invalidateSubtree()
		child.parentBranches = slices.DeleteFunc(child.parentBranches, func(x *Branch) bool { return x == b })
	}
	if parent := c.notes[b.parentNoteID]; parent != nil {
		parent.childBranches = slices.DeleteFunc(parent.childBranches, func(x *Branch) bool { return x == b })
	}

	key := childParentKey(b.noteID, b.parentNoteID)
	if c.childParentToBranch[key] == b {
		delete(c.childParentToBranch, key)
	}
	if c.branches[b.branchID] == b {
		delete(c.branches, b.branchID)
	}
}

// invalidateForAttribute drops the derived views an attribute change on
// owner can affect.
func (c *Cache) invalidateForAttribute(a *Attribute, owner *Note) {
	if c.loading {
		return
	}
	if a.IsAffectingSubtree() || owner.IsInherited() {
		owner.invalidateSubtree()
	} else {
		owner.invalidateThisCache()
	}
}

// attachAttribute wires a into the registry, its owner, the name index and,
// for relations, the target's inbound list.
func (c *Cache) attachAttribute(a *Attribute) {
	c.attributes[a.attributeID] = a

	owner := c.skeleton(a.noteID)
	i := sort.Search(len(owner.ownedAttributes), func(i int) bool {
		return owner.ownedAttributes[i].position > a.position
	})
	owner.ownedAttributes = slices.Insert(owner.ownedAttributes, i, a)

	key := a.indexKey()
	c.attributeIndex[key] = append(c.attributeIndex[key], a)

	if a.typ == Relation && a.value != "" {
		if target := c.notes[a.value]; target != nil {
			target.targetRelations = append(target.targetRelations, a)
		} else {
			c.pendingRelations[a.value] = append(c.pendingRelations[a.value], a)
		}
	}

	c.invalidateForAttribute(a, owner)
}

// detachAttribute unwires a. Derived views are invalidated while a is
// still attached so the invalidation reaches every note that saw it.
func (c *Cache) detachAttribute(a *Attribute) {
	isA := func(x *Attribute) bool { return x == a }

	if owner := c.notes[a.noteID]; owner != nil {
		c.invalidateForAttribute(a, owner)
		owner.ownedAttributes = slices.DeleteFunc(owner.ownedAttributes, isA)
	}
	if a.typ == Relation {
		if target := c.notes[a.value]; target != nil {
			target.targetRelations = slices.DeleteFunc(target.targetRelations, isA)
		}
		if pending, ok := c.pendingRelations[a.value]; ok {
			c.pendingRelations[a.value] = slices.DeleteFunc(pending, isA)
		}
	}

	if c.attributes[a.attributeID] == a {
		delete(c.attributes, a.attributeID)
	}
	key := a.indexKey()
	c.attributeIndex[key] = slices.DeleteFunc(c.attributeIndex[key], isA)
	if len(c.attributeIndex[key]) == 0 {
		delete(c.attributeIndex, key)
	}
}

// noteDeleted moves n from the live map to the tombstones.
func (c *Cache) noteDeleted(n *Note) {
	if c.notes[n.noteID] == n {
		delete(c.notes, n.noteID)
	}
	c.tombstones[n.noteID] = n
	c.metrics.SetCacheNotes(len(c.notes))
}

// Note returns the live note with the given id, or nil.
func (c *Cache) Note(id string) *Note {
	return c.notes[id]
}

// GetNote returns the live note with the given id. A soft-deleted note is
// returned together with ErrDeleted; an unknown id yields ErrNotFound.
func (c *Cache) GetNote(id string) (*Note, error) {
	if n := c.notes[id]; n != nil {
		return n, nil
	}
	if n := c.tombstones[id]; n != nil {
		return n, fmt.Errorf("note %s: %w", id, ErrDeleted)
	}
	return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
}

// Root returns the root note.
func (c *Cache) Root() *Note { return c.notes[RootID] }

// Notes returns the live notes for ids, skipping unknown ones.
func (c *Cache) Notes(ids []string) []*Note {
	out := make([]*Note, 0, len(ids))
	for _, id := range ids {
		if n := c.notes[id]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// AllNotes returns every loaded note ordered by id.
func (c *Cache) AllNotes() []*Note {
	out := make([]*Note, 0, len(c.notes))
	for _, n := range c.notes {
		if !n.skeleton {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].noteID < out[j].noteID })
	return out
}

// NoteCount returns the number of live notes.
func (c *Cache) NoteCount() int { return len(c.notes) }

// Branch returns the live branch with the given id, or nil.
func (c *Cache) Branch(id string) *Branch { return c.branches[id] }

// GetBranch is Branch with ErrNotFound for unknown ids.
func (c *Cache) GetBranch(id string) (*Branch, error) {
	if b := c.branches[id]; b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("branch %s: %w", id, ErrNotFound)
}

// BranchFromChildAndParent returns the branch placing childNoteID under
// parentNoteID, or nil.
func (c *Cache) BranchFromChildAndParent(childNoteID, parentNoteID string) *Branch {
	return c.childParentToBranch[childParentKey(childNoteID, parentNoteID)]
}

// Attribute returns the live attribute with the given id, or nil.
func (c *Cache) Attribute(id string) *Attribute { return c.attributes[id] }

// GetAttribute is Attribute with ErrNotFound for unknown ids.
func (c *Cache) GetAttribute(id string) (*Attribute, error) {
	if a := c.attributes[id]; a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("attribute %s: %w", id, ErrNotFound)
}

// FindAttributes returns every attribute of the given type whose name
// matches case-insensitively.
func (c *Cache) FindAttributes(typ AttributeType, name string) []*Attribute {
	return slices.Clone(c.attributeIndex[indexKey(typ, name)])
}

// FindAttributesWithPrefix returns every attribute of the given type whose
// lowercased name starts with prefix.
func (c *Cache) FindAttributesWithPrefix(typ AttributeType, prefix string) []*Attribute {
	keyPrefix := indexKey(typ, prefix)
	var keys []string
	for key := range c.attributeIndex {
		if strings.HasPrefix(key, keyPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []*Attribute
	for _, key := range keys {
		out = append(out, c.attributeIndex[key]...)
	}
	return out
}

// AttributeNames returns the distinct lowercased names indexed for typ.
func (c *Cache) AttributeNames(typ AttributeType) []string {
	prefix := string(typ) + "-"
	var names []string
	for key := range c.attributeIndex {
		if name, ok := strings.CutPrefix(key, prefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FindNotesWithAttribute returns the owners of attributes matching type and
// name, and value when it is non-empty.
func (c *Cache) FindNotesWithAttribute(typ AttributeType, name, value string) []*Note {
	seen := make(map[string]bool)
	var out []*Note
	for _, a := range c.attributeIndex[indexKey(typ, name)] {
		if value != "" && a.value != value {
			continue
		}
		if owner := c.notes[a.noteID]; owner != nil && !seen[owner.noteID] {
			seen[owner.noteID] = true
			out = append(out, owner)
		}
	}
	return out
}

// FindNotesWithLabel is FindNotesWithAttribute for labels.
func (c *Cache) FindNotesWithLabel(name, value string) []*Note {
	return c.FindNotesWithAttribute(Label, name, value)
}

// InvalidateProtectedNotes drops derived views of protected notes, after the
// protected session starts or ends. A session implementing protect.Notifier
// calls it on its own; start and end such a session inside Exclusive.
func (c *Cache) InvalidateProtectedNotes() {
	for _, n := range c.notes {
		if n.isProtected {
			n.invalidateThisCache()
		}
	}
}

// conn returns where writes go: the open transaction, the store, or nil in
// memory-only mode.
func (c *Cache) conn() store.Conn {
	if c.tx != nil {
		return c.tx.conn
	}
	if c.store != nil {
		return c.store
	}
	return nil
}

// emit publishes e now, or at commit when a transaction is open.
func (c *Cache) emit(e events.Event) {
	if c.tx != nil {
		c.tx.pending = append(c.tx.pending, e)
		return
	}
	c.bus.Publish(e)
}

func (c *Cache) blob(ctx context.Context, blobID string) ([]byte, error) {
	if blobID == "" {
		return nil, nil
	}
	conn := c.conn()
	if conn == nil {
		if content, ok := c.blobs[blobID]; ok {
			return slices.Clone(content), nil
		}
		return nil, nil
	}
	row, err := conn.GetBlob(ctx, blobID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return row.Content, nil
}

func (c *Cache) writeBlob(ctx context.Context, blobID string, content []byte) error {
	now := c.now()
	hash := contentHash([]string{blobID, string(content)})
	change := &store.EntityChange{
		EntityName:     entityBlobs,
		EntityID:       blobID,
		Hash:           hash,
		ChangeID:       newID(),
		UTCDateChanged: now.UTC(),
	}

	if conn := c.conn(); conn != nil {
		err := conn.UpsertBlob(ctx, &store.BlobRow{
			BlobID:          blobID,
			Content:         content,
			DateModified:    now,
			UTCDateModified: now.UTC(),
		})
		if err != nil {
			return err
		}
		if err := conn.RecordChange(ctx, change); err != nil {
			return fmt.Errorf("record change: %w", err)
		}
	} else {
		c.blobs[blobID] = slices.Clone(content)
	}

	c.emit(events.Event{
		Kind:       events.KindUpdated,
		EntityName: entityBlobs,
		EntityID:   blobID,
		Hash:       hash,
		ChangeID:   change.ChangeID,
		Time:       change.UTCDateChanged,
	})
	return nil
}
