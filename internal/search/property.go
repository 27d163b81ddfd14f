package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/store"
)

type propertyFunc func(ctx context.Context, n *graph.Note) string

func count[T any](s []T) string { return strconv.Itoa(len(s)) }

// properties are the note fields reachable as "note.<name>".
var properties = map[string]propertyFunc{
	"noteid":      func(_ context.Context, n *graph.Note) string { return n.ID() },
	"title":       func(_ context.Context, n *graph.Note) string { return n.Title() },
	"type":        func(_ context.Context, n *graph.Note) string { return string(n.Type()) },
	"mime":        func(_ context.Context, n *graph.Note) string { return n.Mime() },
	"isprotected": func(_ context.Context, n *graph.Note) string { return strconv.FormatBool(n.IsProtected()) },
	"isarchived":  func(_ context.Context, n *graph.Note) string { return strconv.FormatBool(n.IsArchived()) },
	"datecreated": func(_ context.Context, n *graph.Note) string {
		return n.DateCreated().Format(store.LocalDateLayout)
	},
	"datemodified": func(_ context.Context, n *graph.Note) string {
		return n.DateModified().Format(store.LocalDateLayout)
	},
	"utcdatecreated": func(_ context.Context, n *graph.Note) string {
		return n.UTCDateCreated().UTC().Format(store.UTCDateLayout)
	},
	"utcdatemodified": func(_ context.Context, n *graph.Note) string {
		return n.UTCDateModified().UTC().Format(store.UTCDateLayout)
	},
	"parentcount":         func(_ context.Context, n *graph.Note) string { return count(n.ParentBranches()) },
	"childrencount":       func(_ context.Context, n *graph.Note) string { return count(n.ChildBranches()) },
	"attributecount":      func(_ context.Context, n *graph.Note) string { return count(n.Attributes()) },
	"labelcount":          func(_ context.Context, n *graph.Note) string { return count(n.Labels("")) },
	"relationcount":       func(_ context.Context, n *graph.Note) string { return count(n.Relations("")) },
	"ownedlabelcount":     func(_ context.Context, n *graph.Note) string { return count(n.OwnedLabels("")) },
	"ownedrelationcount":  func(_ context.Context, n *graph.Note) string { return count(n.OwnedRelations("")) },
	"targetrelationcount": func(_ context.Context, n *graph.Note) string { return count(n.TargetRelations()) },
	"contentsize": func(ctx context.Context, n *graph.Note) string {
		content, err := n.Content(ctx)
		if err != nil {
			return ""
		}
		return strconv.Itoa(len(content))
	},
}

// IsProperty reports whether name is a note property.
func IsProperty(name string) bool {
	_, ok := properties[name]
	return ok
}

// propertyValue returns the lowercased value of a note property.
func propertyValue(ctx context.Context, n *graph.Note, name string) string {
	fn, ok := properties[name]
	if !ok {
		return ""
	}
	return strings.ToLower(fn(ctx, n))
}

// ValueExtractor reads the value an orderBy clause sorts on, following a
// property path such as note.title, #label, ~relation.title or
// note.parents.title.
type ValueExtractor struct {
	path []string
}

// NewValueExtractor normalizes a property path: a leading "#name" or
// "~name" is shorthand for note.labels.name or note.relations.name.
func NewValueExtractor(path []string) *ValueExtractor {
	p := make([]string, len(path))
	for i, el := range path {
		p[i] = strings.ToLower(el)
	}
	if len(p) > 0 {
		switch {
		case strings.HasPrefix(p[0], "#"):
			p = append([]string{"note", "labels", p[0][1:]}, p[1:]...)
		case strings.HasPrefix(p[0], "~"):
			p = append([]string{"note", "relations", p[0][1:]}, p[1:]...)
		}
	}
	return &ValueExtractor{path: p}
}

// Validate returns a description of what is wrong with the path, or nil.
func (ve *ValueExtractor) Validate() error {
	if len(ve.path) == 0 || ve.path[0] != "note" {
		first := ""
		if len(ve.path) > 0 {
			first = ve.path[0]
		}
		return fmt.Errorf("property specifier must start with 'note', but starts with '%s'", first)
	}
	for i := 1; i < len(ve.path); i++ {
		el := ve.path[i]
		switch {
		case el == "labels":
			if i != len(ve.path)-2 {
				return fmt.Errorf("label is a terminal property specifier and must be at the end")
			}
			i++
		case el == "relations":
			if i >= len(ve.path)-2 {
				return fmt.Errorf("relation name or property name is missing")
			}
			i++
		case IsProperty(el) || el == "random":
			if i != len(ve.path)-1 {
				return fmt.Errorf("%s is a terminal property specifier and must be at the end", el)
			}
		case el == "parents" || el == "children":
		default:
			return fmt.Errorf("unrecognized property specifier %s", el)
		}
	}
	return nil
}

// Extract returns the value for n and whether there is one.
func (ve *ValueExtractor) Extract(ctx context.Context, n *graph.Note) (string, bool) {
	cursor := n
	for i := 0; i < len(ve.path); i++ {
		if cursor == nil {
			return "", false
		}
		switch el := ve.path[i]; {
		case el == "note":
		case el == "labels":
			i++
			a := attributeCaseInsensitive(cursor, graph.Label, ve.path[i])
			if a == nil {
				return "", false
			}
			return strings.ToLower(a.Value()), true
		case el == "relations":
			i++
			a := attributeCaseInsensitive(cursor, graph.Relation, ve.path[i])
			if a == nil {
				return "", false
			}
			cursor = a.TargetNote()
		case el == "parents":
			cursor = first(cursor.ParentNotes())
		case el == "children":
			cursor = first(cursor.ChildNotes())
		case el == "random":
			return strconv.FormatFloat(rand.Float64(), 'f', -1, 64), true
		case IsProperty(el):
			return propertyValue(ctx, cursor, el), true
		}
	}
	return "", false
}

func (ve *ValueExtractor) String() string { return strings.Join(ve.path, ".") }

func first(notes []*graph.Note) *graph.Note {
	if len(notes) == 0 {
		return nil
	}
	return notes[0]
}

func attributeCaseInsensitive(n *graph.Note, typ graph.AttributeType, name string) *graph.Attribute {
	for _, a := range n.Attributes() {
		if a.Type() == typ && strings.EqualFold(a.Name(), name) {
			return a
		}
	}
	return nil
}
