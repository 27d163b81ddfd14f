package graph

import "context"

// SearchResolver computes the members of a search note. The search engine
// implements it; the cache only calls through it during traversal.
type SearchResolver interface {
	ResolveSearchNote(ctx context.Context, note *Note) ([]*Note, error)
}

// SubtreeOptions control Subtree traversal.
type SubtreeOptions struct {
	IncludeArchived bool
	IncludeHidden   bool
	// ResolveSearch substitutes the results of a search note for its children.
	ResolveSearch bool
}

// Relationship is one parent-child edge seen during traversal.
type Relationship struct {
	ParentNoteID string
	ChildNoteID  string
}

// Subtree is the result of a traversal.
type Subtree struct {
	Notes         []*Note
	Relationships []Relationship
}

// NoteIDs returns the ids of the subtree notes in visit order.
func (s Subtree) NoteIDs() []string {
	ids := make([]string, len(s.Notes))
	for i, n := range s.Notes {
		ids[i] = n.noteID
	}
	return ids
}

// Subtree walks the note and its descendants depth first. Every edge is
// recorded, including edges into notes already visited through another
// clone, but each note's children are expanded once.
func (n *Note) Subtree(ctx context.Context, opts SubtreeOptions) Subtree {
	var out Subtree
	visited := make(map[string]bool)

	var walk func(note, parent *Note)
	walk = func(note, parent *Note) {
		if note.noteID == HiddenRootID && !opts.IncludeHidden {
			return
		}
		if parent != nil {
			out.Relationships = append(out.Relationships, Relationship{
				ParentNoteID: parent.noteID,
				ChildNoteID:  note.noteID,
			})
		}
		if visited[note.noteID] {
			return
		}
		if !opts.IncludeArchived && note.IsArchived() {
			return
		}
		visited[note.noteID] = true
		out.Notes = append(out.Notes, note)

		if note.typ == TypeSearch {
			if opts.ResolveSearch {
				for _, result := range n.cache.resolveSearchNote(ctx, note) {
					walk(result, note)
				}
			}
			return
		}
		for _, child := range note.ChildNotes() {
			walk(child, note)
		}
	}

	walk(n, nil)
	return out
}

// SubtreeNoteIDs is Subtree reduced to note ids.
func (n *Note) SubtreeNoteIDs(ctx context.Context, opts SubtreeOptions) []string {
	return n.Subtree(ctx, opts).NoteIDs()
}

// resolveSearchNote asks the resolver for the members of a search note.
// Failures are logged and contribute nothing.
func (c *Cache) resolveSearchNote(ctx context.Context, note *Note) []*Note {
	if c.resolver == nil {
		c.logger.Warn("no search resolver configured", "note_id", note.noteID)
		return nil
	}
	results, err := c.resolver.ResolveSearchNote(ctx, note)
	if err != nil {
		c.logger.Error("could not resolve search note", "note_id", note.noteID, "error", err)
		return nil
	}
	return results
}
