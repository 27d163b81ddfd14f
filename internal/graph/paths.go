package graph

import (
	"slices"
	"sort"
	"strings"
)

// Unreachable is the distance reported to a note that is not an ancestor.
const Unreachable = 999999

// AllNotePaths returns every root-to-note path as note ids. Paths through
// search notes are excluded.
func (n *Note) AllNotePaths() [][]string {
	return n.notePaths(nil)
}

func (n *Note) notePaths(stack []string) [][]string {
	if n.noteID == RootID {
		return [][]string{{RootID}}
	}
	if slices.Contains(stack, n.noteID) {
		return nil
	}
	stack = append(stack, n.noteID)

	var paths [][]string
	for _, parent := range n.ParentNotes() {
		if parent.typ == TypeSearch {
			continue
		}
		for _, p := range parent.notePaths(stack) {
			paths = append(paths, append(slices.Clone(p), n.noteID))
		}
	}
	return paths
}

// NotePath is one candidate path with the facts used to rank it.
type NotePath struct {
	NoteIDs         []string
	IsInHoistedTree bool
	IsArchived      bool
	IsHidden        bool
}

// SortedNotePaths returns all paths ranked: inside the hoisted subtree
// first, then non-archived, then non-hidden, then shortest.
func (n *Note) SortedNotePaths(hoistedNoteID string) []NotePath {
	if hoistedNoteID == "" {
		hoistedNoteID = RootID
	}

	all := n.AllNotePaths()
	paths := make([]NotePath, 0, len(all))
	for _, ids := range all {
		p := NotePath{
			NoteIDs:         ids,
			IsInHoistedTree: slices.Contains(ids, hoistedNoteID),
			IsHidden:        slices.Contains(ids, HiddenRootID),
		}
		for _, id := range ids {
			if note := n.cache.notes[id]; note != nil && note.IsArchived() {
				p.IsArchived = true
				break
			}
		}
		paths = append(paths, p)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if a.IsInHoistedTree != b.IsInHoistedTree {
			return a.IsInHoistedTree
		}
		if a.IsArchived != b.IsArchived {
			return !a.IsArchived
		}
		if a.IsHidden != b.IsHidden {
			return !a.IsHidden
		}
		return len(a.NoteIDs) < len(b.NoteIDs)
	})
	return paths
}

// BestNotePath returns the highest ranked path, or nil when the note has no
// path to root.
func (n *Note) BestNotePath(hoistedNoteID string) []string {
	paths := n.SortedNotePaths(hoistedNoteID)
	if len(paths) == 0 {
		return nil
	}
	return paths[0].NoteIDs
}

// BestNotePathString joins the best path with '/'.
func (n *Note) BestNotePathString(hoistedNoteID string) string {
	return strings.Join(n.BestNotePath(hoistedNoteID), "/")
}

// MustBestNotePath is BestNotePath for operations that cannot proceed
// without a path.
func (n *Note) MustBestNotePath(hoistedNoteID string) ([]string, error) {
	path := n.BestNotePath(hoistedNoteID)
	if path == nil {
		return nil, &pathError{noteID: n.noteID}
	}
	return path, nil
}

type pathError struct{ noteID string }

func (e *pathError) Error() string { return "note " + e.noteID + ": " + ErrNoPath.Error() }
func (e *pathError) Unwrap() error { return ErrNoPath }

// PathTitle renders a path of note ids as titles joined with " / ", leaving
// out root. A branch prefix is shown as "prefix - title".
func (c *Cache) PathTitle(path []string) string {
	var parts []string
	for i, id := range path {
		if id == RootID {
			continue
		}
		note := c.notes[id]
		if note == nil {
			continue
		}
		title := note.Title()
		if i > 0 {
			if b := note.ParentBranch(path[i-1]); b != nil && b.prefix != "" {
				title = b.prefix + " - " + title
			}
		}
		parts = append(parts, title)
	}
	return strings.Join(parts, " / ")
}

// BestNotePathTitle renders the best path to the note.
func (n *Note) BestNotePathTitle(hoistedNoteID string) string {
	return n.cache.PathTitle(n.BestNotePath(hoistedNoteID))
}

// Ancestors returns every ancestor across all parents, deduplicated,
// nearest parents first.
func (n *Note) Ancestors() []*Note {
	return slices.Clone(n.resolveAncestors(nil))
}

func (n *Note) resolveAncestors(stack []string) []*Note {
	if n.ancestors.valid {
		return n.ancestors.value
	}
	if slices.Contains(stack, n.noteID) {
		return nil
	}
	stack = append(stack, n.noteID)

	seen := make(map[string]bool)
	var out []*Note
	for _, parent := range n.ParentNotes() {
		if seen[parent.noteID] {
			continue
		}
		seen[parent.noteID] = true
		out = append(out, parent)
		for _, anc := range parent.resolveAncestors(stack) {
			if !seen[anc.noteID] {
				seen[anc.noteID] = true
				out = append(out, anc)
			}
		}
	}

	n.ancestors.value, n.ancestors.valid = out, true
	return out
}

// HasAncestor reports whether ancestorNoteID is an ancestor of the note.
func (n *Note) HasAncestor(ancestorNoteID string) bool {
	for _, anc := range n.resolveAncestors(nil) {
		if anc.noteID == ancestorNoteID {
			return true
		}
	}
	return false
}

// DistanceToAncestor returns the fewest parent hops to ancestorNoteID: 0 for
// the note itself, Unreachable when it is not an ancestor.
func (n *Note) DistanceToAncestor(ancestorNoteID string) int {
	return n.distanceTo(ancestorNoteID, nil)
}

func (n *Note) distanceTo(ancestorNoteID string, stack []string) int {
	if n.noteID == ancestorNoteID {
		return 0
	}
	if slices.Contains(stack, n.noteID) {
		return Unreachable
	}
	stack = append(stack, n.noteID)

	best := Unreachable
	for _, parent := range n.ParentNotes() {
		if d := parent.distanceTo(ancestorNoteID, stack); d != Unreachable && d+1 < best {
			best = d + 1
		}
	}
	return best
}
