package graph

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/canopy/internal/store"
)

// AttributeType is either Label or Relation.
type AttributeType string

const (
	Label    AttributeType = "label"
	Relation AttributeType = "relation"
)

// Valid reports whether t is one of the two attribute types.
func (t AttributeType) Valid() bool {
	return t == Label || t == Relation
}

// Relation names that pull another note's attributes into the owner.
const (
	RelTemplate = "template"
	RelInherit  = "inherit"
)

// Attribute is a label or relation owned by a note.
type Attribute struct {
	entity

	attributeID     string
	noteID          string
	typ             AttributeType
	name            string
	value           string
	position        int
	isInheritable   bool
	isDeleted       bool
	deleteID        string
	utcDateModified time.Time
}

func (a *Attribute) ID() string                 { return a.attributeID }
func (a *Attribute) NoteID() string             { return a.noteID }
func (a *Attribute) Type() AttributeType        { return a.typ }
func (a *Attribute) Name() string               { return a.name }
func (a *Attribute) Value() string              { return a.value }
func (a *Attribute) Position() int              { return a.position }
func (a *Attribute) IsInheritable() bool        { return a.isInheritable }
func (a *Attribute) UTCDateModified() time.Time { return a.utcDateModified }

// IsDeleted reports whether the attribute is no longer registered in the cache.
func (a *Attribute) IsDeleted() bool {
	return a.cache == nil || a.cache.attributes[a.attributeID] != a
}

// Note returns the owning note.
func (a *Attribute) Note() *Note {
	return a.cache.notes[a.noteID]
}

// TargetNote returns the note a relation points to, or nil.
func (a *Attribute) TargetNote() *Note {
	if a.typ != Relation {
		return nil
	}
	return a.cache.notes[a.value]
}

// IsTemplateRelation reports whether this is a template or inherit relation.
func (a *Attribute) IsTemplateRelation() bool {
	return a.typ == Relation && (a.name == RelTemplate || a.name == RelInherit)
}

// IsAffectingSubtree reports whether changing this attribute changes the
// effective attributes of notes other than its owner.
func (a *Attribute) IsAffectingSubtree() bool {
	return a.isInheritable || a.IsTemplateRelation()
}

// IsDefinition reports whether this label defines a promoted attribute.
func (a *Attribute) IsDefinition() bool {
	return a.typ == Label && (strings.HasPrefix(a.name, "label:") || strings.HasPrefix(a.name, "relation:"))
}

// DefinedName returns the attribute name a definition label describes.
func (a *Attribute) DefinedName() string {
	_, after, _ := strings.Cut(a.name, ":")
	return after
}

// Definition parses the value of a definition label.
func (a *Attribute) Definition() (Definition, error) {
	return ParseDefinition(a.value, a.cache.logger)
}

func (a *Attribute) indexKey() string {
	return indexKey(a.typ, a.name)
}

func indexKey(typ AttributeType, name string) string {
	return string(typ) + "-" + strings.ToLower(name)
}

func (a *Attribute) row() *store.AttributeRow {
	return &store.AttributeRow{
		AttributeID:     a.attributeID,
		NoteID:          a.noteID,
		Type:            string(a.typ),
		Name:            a.name,
		Value:           a.value,
		Position:        a.position,
		IsInheritable:   a.isInheritable,
		IsDeleted:       a.isDeleted,
		DeleteID:        a.deleteID,
		UTCDateModified: a.utcDateModified,
	}
}

func attributeFromRow(r store.AttributeRow) *Attribute {
	return &Attribute{
		attributeID:     r.AttributeID,
		noteID:          r.NoteID,
		typ:             AttributeType(r.Type),
		name:            r.Name,
		value:           r.Value,
		position:        r.Position,
		isInheritable:   r.IsInheritable,
		isDeleted:       r.IsDeleted,
		deleteID:        r.DeleteID,
		utcDateModified: r.UTCDateModified,
	}
}

func (a *Attribute) entityName() string  { return entityAttributes }
func (a *Attribute) entityID() string    { return a.attributeID }
func (a *Attribute) ownerNoteID() string { return a.noteID }
func (a *Attribute) deleted() bool       { return a.isDeleted }

func (a *Attribute) hashFields() []string {
	return []string{
		a.attributeID, a.noteID, string(a.typ), a.name, a.value,
		strconv.Itoa(a.position), strconv.FormatBool(a.isInheritable),
		strconv.FormatBool(a.isDeleted),
	}
}

func (a *Attribute) write(ctx context.Context, conn store.Conn) error {
	return conn.UpsertAttribute(ctx, a.row())
}

var invalidNameChars = regexp.MustCompile(`[^\p{L}\p{N}_:]`)

// SanitizeAttributeName strips a leading '#' or '~' and replaces characters
// outside letters, digits, '_' and ':' with '_'.
func SanitizeAttributeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, "#~")
	return invalidNameChars.ReplaceAllString(name, "_")
}

// validateAttribute checks the invariants every attribute must satisfy
// before it is written.
func (c *Cache) validateAttribute(a *Attribute) error {
	if !a.typ.Valid() {
		return invalid("attribute", a.attributeID, "type %q of note %s is neither label nor relation", a.typ, a.noteID)
	}
	if strings.TrimSpace(a.name) == "" {
		return invalid("attribute", a.attributeID, "empty name on note %s", a.noteID)
	}
	if _, ok := c.notes[a.noteID]; !ok {
		return invalid("attribute", a.attributeID, "owner note %s does not exist", a.noteID)
	}
	if a.typ == Relation {
		if a.value == "" {
			return invalid("attribute", a.attributeID, "relation %q of note %s has no target", a.name, a.noteID)
		}
		if _, ok := c.notes[a.value]; !ok {
			return invalid("attribute", a.attributeID, "relation %q of note %s targets missing note %s", a.name, a.noteID, a.value)
		}
	}
	if a.IsDefinition() {
		if _, err := ParseDefinition(a.value, c.logger); err != nil {
			return invalid("attribute", a.attributeID, "definition %q: %v", a.name, err)
		}
	}
	return nil
}
