package search

import "github.com/lazypower/canopy/internal/graph"

// NoteSet is an insertion-ordered set of notes.
type NoteSet struct {
	notes []*graph.Note
	ids   map[string]bool
	// sorted is set when an expression already imposed the final order.
	sorted bool
}

// NewNoteSet returns a set of notes, dropping duplicates.
func NewNoteSet(notes ...*graph.Note) *NoteSet {
	s := &NoteSet{ids: make(map[string]bool, len(notes))}
	s.AddAll(notes)
	return s
}

func (s *NoteSet) Add(n *graph.Note) {
	if n == nil || s.ids[n.ID()] {
		return
	}
	s.ids[n.ID()] = true
	s.notes = append(s.notes, n)
}

func (s *NoteSet) AddAll(notes []*graph.Note) {
	for _, n := range notes {
		s.Add(n)
	}
}

func (s *NoteSet) Has(n *graph.Note) bool { return n != nil && s.ids[n.ID()] }

func (s *NoteSet) HasID(id string) bool { return s.ids[id] }

func (s *NoteSet) Len() int { return len(s.notes) }

// Notes returns the members in insertion order.
func (s *NoteSet) Notes() []*graph.Note { return s.notes }

// Minus returns the members not in other.
func (s *NoteSet) Minus(other *NoteSet) *NoteSet {
	out := NewNoteSet()
	for _, n := range s.notes {
		if !other.Has(n) {
			out.Add(n)
		}
	}
	return out
}

// Intersect returns the members also in other, in this set's order.
func (s *NoteSet) Intersect(other *NoteSet) *NoteSet {
	out := NewNoteSet()
	for _, n := range s.notes {
		if other.Has(n) {
			out.Add(n)
		}
	}
	return out
}

// Union adds the members of other after this set's members.
func (s *NoteSet) Union(other *NoteSet) *NoteSet {
	out := NewNoteSet(s.notes...)
	out.AddAll(other.notes)
	return out
}
