package graph

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/canopy/internal/protect"
	"github.com/lazypower/canopy/internal/store"
	"github.com/lazypower/canopy/internal/textnorm"
)

// NoteType selects how a note is rendered and behaves.
type NoteType string

const (
	TypeText        NoteType = "text"
	TypeCode        NoteType = "code"
	TypeFile        NoteType = "file"
	TypeImage       NoteType = "image"
	TypeSearch      NoteType = "search"
	TypeBook        NoteType = "book"
	TypeRelationMap NoteType = "relationMap"
	TypeRender      NoteType = "render"
	TypeLauncher    NoteType = "launcher"
	TypeDoc         NoteType = "doc"
	TypeMermaid     NoteType = "mermaid"
	TypeCanvas      NoteType = "canvas"
)

// DefaultMime returns the mime a new note of type t gets when none is given.
func DefaultMime(t NoteType) string {
	switch t {
	case TypeText, TypeBook:
		return "text/html"
	case TypeCode:
		return "text/plain"
	case TypeMermaid:
		return "text/mermaid"
	case TypeCanvas, TypeRelationMap, TypeSearch:
		return "application/json"
	default:
		return ""
	}
}

// Note is the central cached entity. Fields are read through accessors;
// mutations go through methods that persist and invalidate derived views.
type Note struct {
	entity

	noteID          string
	title           string
	typ             NoteType
	mime            string
	isProtected     bool
	blobID          string
	isDeleted       bool
	deleteID        string
	dateCreated     time.Time
	dateModified    time.Time
	utcDateCreated  time.Time
	utcDateModified time.Time

	// skeleton is set while the note is only known by reference.
	skeleton       bool
	isBeingDeleted bool

	parentBranches  []*Branch
	childBranches   []*Branch // ordered by note position
	ownedAttributes []*Attribute
	targetRelations []*Attribute

	flatText    memo[string]
	attrs       memo[[]*Attribute]
	inheritable memo[[]*Attribute]
	ancestors   memo[[]*Note]
}

func (n *Note) ID() string                 { return n.noteID }
func (n *Note) Type() NoteType             { return n.typ }
func (n *Note) Mime() string               { return n.mime }
func (n *Note) IsProtected() bool          { return n.isProtected }
func (n *Note) BlobID() string             { return n.blobID }
func (n *Note) DateCreated() time.Time     { return n.dateCreated }
func (n *Note) DateModified() time.Time    { return n.dateModified }
func (n *Note) UTCDateCreated() time.Time  { return n.utcDateCreated }
func (n *Note) UTCDateModified() time.Time { return n.utcDateModified }
func (n *Note) IsDeleted() bool            { return n.isDeleted }
func (n *Note) IsBeingDeleted() bool       { return n.isBeingDeleted }
func (n *Note) IsRoot() bool               { return n.noteID == RootID }

// Title returns the decrypted title, or a placeholder for a protected note
// when no protected session is active.
func (n *Note) Title() string {
	if !n.isProtected {
		return n.title
	}
	session := n.cache.session
	if session == nil || !session.IsActive() {
		return protect.Placeholder
	}
	title, err := session.DecryptTitle(n.title)
	if err != nil {
		n.cache.logger.Error("could not decrypt title", "note_id", n.noteID, "error", err)
		return protect.Placeholder
	}
	return title
}

// IsContentAvailable reports whether title and content can be shown.
func (n *Note) IsContentAvailable() bool {
	if !n.isProtected {
		return true
	}
	return n.cache.session != nil && n.cache.session.IsActive()
}

// ParentBranches returns the branches placing this note under its parents.
func (n *Note) ParentBranches() []*Branch { return slices.Clone(n.parentBranches) }

// StrongParentBranches returns the parent branches that are not weak.
func (n *Note) StrongParentBranches() []*Branch {
	var out []*Branch
	for _, b := range n.parentBranches {
		if !b.IsWeak() {
			out = append(out, b)
		}
	}
	return out
}

// ChildBranches returns child branches in note position order.
func (n *Note) ChildBranches() []*Branch { return slices.Clone(n.childBranches) }

// ParentNotes returns the parents in parent branch order.
func (n *Note) ParentNotes() []*Note {
	out := make([]*Note, 0, len(n.parentBranches))
	for _, b := range n.parentBranches {
		if p := n.cache.notes[b.parentNoteID]; p != nil {
			out = append(out, p)
		}
	}
	return out
}

// ChildNotes returns the children in note position order.
func (n *Note) ChildNotes() []*Note {
	out := make([]*Note, 0, len(n.childBranches))
	for _, b := range n.childBranches {
		if ch := n.cache.notes[b.noteID]; ch != nil {
			out = append(out, ch)
		}
	}
	return out
}

func (n *Note) HasChildren() bool { return len(n.childBranches) > 0 }

// ParentBranch returns the branch to parentNoteID, or nil.
func (n *Note) ParentBranch(parentNoteID string) *Branch {
	return n.cache.childParentToBranch[childParentKey(n.noteID, parentNoteID)]
}

// TargetRelations returns relations on other notes pointing at this note.
func (n *Note) TargetRelations() []*Attribute { return slices.Clone(n.targetRelations) }

// OwnedAttributes returns attributes owned by this note in position order.
func (n *Note) OwnedAttributes() []*Attribute { return slices.Clone(n.ownedAttributes) }

// OwnedAttributesOf filters owned attributes by type and, when non-empty, name.
func (n *Note) OwnedAttributesOf(typ AttributeType, name string) []*Attribute {
	var out []*Attribute
	for _, a := range n.ownedAttributes {
		if a.typ == typ && (name == "" || a.name == name) {
			out = append(out, a)
		}
	}
	return out
}

// OwnedAttribute returns the first owned attribute of the given type and name.
func (n *Note) OwnedAttribute(typ AttributeType, name string) *Attribute {
	for _, a := range n.ownedAttributes {
		if a.typ == typ && a.name == name {
			return a
		}
	}
	return nil
}

func (n *Note) OwnedLabels(name string) []*Attribute    { return n.OwnedAttributesOf(Label, name) }
func (n *Note) OwnedRelations(name string) []*Attribute { return n.OwnedAttributesOf(Relation, name) }
func (n *Note) HasOwnedLabel(name string) bool          { return n.OwnedAttribute(Label, name) != nil }
func (n *Note) HasOwnedRelation(name string) bool       { return n.OwnedAttribute(Relation, name) != nil }

// OwnedLabelValue returns the value of the first owned label name, or "".
func (n *Note) OwnedLabelValue(name string) string {
	if a := n.OwnedAttribute(Label, name); a != nil {
		return a.value
	}
	return ""
}

// Attributes returns the effective attributes: owned, inherited from
// ancestors, and pulled in through template and inherit relations.
func (n *Note) Attributes() []*Attribute {
	return slices.Clone(n.resolveAttributes(nil))
}

// AttributesOf filters effective attributes by type and, when non-empty,
// name. An invalid type is rejected.
func (n *Note) AttributesOf(typ AttributeType, name string) ([]*Attribute, error) {
	if !typ.Valid() {
		return nil, invalid("attribute type", string(typ), "must be label or relation")
	}
	var out []*Attribute
	for _, a := range n.resolveAttributes(nil) {
		if a.typ == typ && (name == "" || a.name == name) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Attribute returns the first effective attribute of the given type and name.
func (n *Note) Attribute(typ AttributeType, name string) *Attribute {
	for _, a := range n.resolveAttributes(nil) {
		if a.typ == typ && a.name == name {
			return a
		}
	}
	return nil
}

func (n *Note) Labels(name string) []*Attribute {
	out, _ := n.AttributesOf(Label, name)
	return out
}

func (n *Note) Relations(name string) []*Attribute {
	out, _ := n.AttributesOf(Relation, name)
	return out
}

func (n *Note) HasLabel(name string) bool    { return n.Attribute(Label, name) != nil }
func (n *Note) HasRelation(name string) bool { return n.Attribute(Relation, name) != nil }

// LabelValue returns the value of the first effective label name, or "".
func (n *Note) LabelValue(name string) string {
	if a := n.Attribute(Label, name); a != nil {
		return a.value
	}
	return ""
}

// IsLabelTruthy reports whether label name is present and not "false".
func (n *Note) IsLabelTruthy(name string) bool {
	a := n.Attribute(Label, name)
	return a != nil && strings.ToLower(a.value) != "false"
}

// RelationTarget returns the target of the first effective relation name.
func (n *Note) RelationTarget(name string) *Note {
	if a := n.Attribute(Relation, name); a != nil {
		return a.TargetNote()
	}
	return nil
}

// InheritableAttributes returns the effective attributes this note passes
// to its children.
func (n *Note) InheritableAttributes() []*Attribute {
	return slices.Clone(n.resolveInheritable(nil))
}

// resolveAttributes computes (and memoizes) the effective attribute list.
// path holds the note ids on the current resolution stack; a note already on
// it contributes nothing, which terminates relation and clone cycles.
func (n *Note) resolveAttributes(path []string) []*Attribute {
	if slices.Contains(path, n.noteID) {
		return nil
	}
	if n.attrs.valid {
		return n.attrs.value
	}

	collected := slices.Clone(n.ownedAttributes)
	newPath := append(slices.Clone(path), n.noteID)

	if n.noteID != RootID && n.noteID != HiddenRootID {
		for _, parent := range n.ParentNotes() {
			collected = append(collected, parent.resolveInheritable(newPath)...)
		}
	}

	// Templates are resolved over inherited relations too.
	var templated []*Attribute
	for _, a := range collected {
		if !a.IsTemplateRelation() {
			continue
		}
		tmpl := n.cache.notes[a.value]
		if tmpl == nil {
			continue
		}
		for _, ta := range tmpl.resolveAttributes(newPath) {
			if ta.typ == Label && (ta.name == "template" || ta.name == "workspacetemplate") {
				continue
			}
			templated = append(templated, ta)
		}
	}

	seen := make(map[string]bool, len(collected)+len(templated))
	var result, inheritable []*Attribute
	for _, a := range append(collected, templated...) {
		if seen[a.attributeID] {
			continue
		}
		seen[a.attributeID] = true
		result = append(result, a)
		if a.isInheritable {
			inheritable = append(inheritable, a)
		}
	}

	n.attrs.value, n.attrs.valid = result, true
	n.inheritable.value, n.inheritable.valid = inheritable, true
	return result
}

func (n *Note) resolveInheritable(path []string) []*Attribute {
	if slices.Contains(path, n.noteID) {
		return nil
	}
	if !n.inheritable.valid {
		n.resolveAttributes(path)
	}
	return n.inheritable.value
}

// IsInherited reports whether another note uses this one as a template or
// inherit source.
func (n *Note) IsInherited() bool {
	for _, rel := range n.targetRelations {
		if rel.IsTemplateRelation() {
			return true
		}
	}
	return false
}

// InheritingNotes returns this note plus every note that uses it through a
// template or inherit relation.
func (n *Note) InheritingNotes() []*Note {
	out := []*Note{n}
	for _, rel := range n.targetRelations {
		if rel.IsTemplateRelation() {
			if owner := rel.Note(); owner != nil {
				out = append(out, owner)
			}
		}
	}
	return out
}

// SubtreeNotesIncludingTemplated returns the subtree of this note extended
// by every note inheriting from a subtree member, and their subtrees.
func (n *Note) SubtreeNotesIncludingTemplated() []*Note {
	seen := make(map[string]bool)
	var out []*Note
	var walk func(note *Note, fromParent bool)
	walk = func(note *Note, fromParent bool) {
		if seen[note.noteID] {
			return
		}
		// The hidden root inherits nothing from its parent.
		if fromParent && note.noteID == HiddenRootID {
			return
		}
		seen[note.noteID] = true
		out = append(out, note)
		for _, child := range note.ChildNotes() {
			walk(child, true)
		}
		for _, rel := range note.targetRelations {
			if rel.IsTemplateRelation() {
				if owner := rel.Note(); owner != nil {
					walk(owner, false)
				}
			}
		}
	}
	walk(n, false)
	return out
}

// IsArchived reports whether the note carries an archived label, owned or inherited.
func (n *Note) IsArchived() bool { return n.HasLabel("archived") }

// IsInHiddenSubtree reports whether the note is the hidden root or under it.
func (n *Note) IsInHiddenSubtree() bool {
	return n.noteID == HiddenRootID || n.HasAncestor(HiddenRootID)
}

// IsHiddenCompletely reports whether every path to this note goes through
// the hidden subtree.
func (n *Note) IsHiddenCompletely() bool {
	return n.hiddenCompletely(make(map[string]bool))
}

func (n *Note) hiddenCompletely(visited map[string]bool) bool {
	if n.noteID == RootID {
		return false
	}
	if n.noteID == HiddenRootID {
		return true
	}
	if visited[n.noteID] {
		return true
	}
	visited[n.noteID] = true
	for _, parent := range n.ParentNotes() {
		if parent.noteID == RootID {
			return false
		}
		if parent.noteID == HiddenRootID {
			continue
		}
		if !parent.hiddenCompletely(visited) {
			return false
		}
	}
	return true
}

// LabelDefinitions returns the label definitions of this note.
// Filters on the "relation:" prefix, matching RelationDefinitions; see DESIGN.md.
func (n *Note) LabelDefinitions() []*Attribute {
	return n.definitionsWithPrefix("relation:")
}

// RelationDefinitions returns the relation definitions of this note.
func (n *Note) RelationDefinitions() []*Attribute {
	return n.definitionsWithPrefix("relation:")
}

func (n *Note) definitionsWithPrefix(prefix string) []*Attribute {
	var out []*Attribute
	for _, a := range n.Labels("") {
		if strings.HasPrefix(a.name, prefix) {
			out = append(out, a)
		}
	}
	return out
}

// FlatText returns the normalized searchable surface of the note: id,
// type, mime, branch prefixes, title and attributes.
func (n *Note) FlatText() string {
	return n.flatText.get(func() string {
		var sb strings.Builder
		sb.WriteString(n.noteID + " " + string(n.typ) + " " + n.mime + " ")
		for _, b := range n.parentBranches {
			if b.prefix != "" {
				sb.WriteString(b.prefix + " ")
			}
		}
		sb.WriteString(n.Title() + " ")
		for _, a := range n.resolveAttributes(nil) {
			if a.typ == Label {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('~')
			}
			sb.WriteString(a.name)
			if a.value != "" {
				sb.WriteString("=" + a.value)
			}
			sb.WriteByte(' ')
		}
		return textnorm.Normalize(sb.String())
	})
}

// invalidateThisCache drops the derived views of this note only.
func (n *Note) invalidateThisCache() {
	n.flatText.invalidate()
	n.attrs.invalidate()
	n.inheritable.invalidate()
	n.ancestors.invalidate()
}

// invalidateSubtree drops derived views of this note, its descendants and
// every note inheriting from them through template or inherit relations.
func (n *Note) invalidateSubtree() {
	n.invalidateSubtreeFrom(make(map[string]bool))
}

func (n *Note) invalidateSubtreeFrom(visited map[string]bool) {
	if visited[n.noteID] {
		return
	}
	visited[n.noteID] = true
	n.invalidateThisCache()
	for _, child := range n.ChildNotes() {
		child.invalidateSubtreeFrom(visited)
	}
	for _, rel := range n.targetRelations {
		if rel.IsTemplateRelation() {
			if owner := rel.Note(); owner != nil {
				owner.invalidateSubtreeFrom(visited)
			}
		}
	}
}

// Content returns the note content. Protected content is decrypted when a
// session is active and replaced by a placeholder otherwise.
func (n *Note) Content(ctx context.Context) ([]byte, error) {
	raw, err := n.cache.blob(ctx, n.blobID)
	if err != nil {
		return nil, fmt.Errorf("content of %s: %w", n.noteID, err)
	}
	if !n.isProtected || raw == nil {
		return raw, nil
	}
	if !n.IsContentAvailable() {
		return []byte(protect.Placeholder), nil
	}
	plain, err := n.cache.session.DecryptContent(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt content of %s: %w", n.noteID, err)
	}
	return plain, nil
}

func (n *Note) row() *store.NoteRow {
	return &store.NoteRow{
		NoteID:          n.noteID,
		Title:           n.title,
		Type:            string(n.typ),
		Mime:            n.mime,
		IsProtected:     n.isProtected,
		BlobID:          n.blobID,
		IsDeleted:       n.isDeleted,
		DeleteID:        n.deleteID,
		DateCreated:     n.dateCreated,
		DateModified:    n.dateModified,
		UTCDateCreated:  n.utcDateCreated,
		UTCDateModified: n.utcDateModified,
	}
}

// fill copies persisted fields from r, completing a skeleton in place.
func (n *Note) fill(r store.NoteRow) {
	n.noteID = r.NoteID
	n.title = r.Title
	n.typ = NoteType(r.Type)
	n.mime = r.Mime
	n.isProtected = r.IsProtected
	n.blobID = r.BlobID
	n.isDeleted = r.IsDeleted
	n.deleteID = r.DeleteID
	n.dateCreated = r.DateCreated
	n.dateModified = r.DateModified
	n.utcDateCreated = r.UTCDateCreated
	n.utcDateModified = r.UTCDateModified
	n.skeleton = false
}

func (n *Note) entityName() string  { return entityNotes }
func (n *Note) entityID() string    { return n.noteID }
func (n *Note) ownerNoteID() string { return n.noteID }
func (n *Note) deleted() bool       { return n.isDeleted }

func (n *Note) hashFields() []string {
	return []string{
		n.noteID, n.title, string(n.typ), n.mime,
		strconv.FormatBool(n.isProtected), n.blobID,
		strconv.FormatBool(n.isDeleted),
	}
}

func (n *Note) write(ctx context.Context, conn store.Conn) error {
	return conn.UpsertNote(ctx, n.row())
}
