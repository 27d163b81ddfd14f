package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/search"
)

type attributeJSON struct {
	AttributeID   string `json:"attributeId"`
	NoteID        string `json:"noteId"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	Value         string `json:"value"`
	Position      int    `json:"position"`
	IsInheritable bool   `json:"isInheritable"`
}

type branchJSON struct {
	BranchID     string `json:"branchId"`
	NoteID       string `json:"noteId"`
	ParentNoteID string `json:"parentNoteId"`
	Prefix       string `json:"prefix,omitempty"`
	NotePosition int    `json:"notePosition"`
}

type noteJSON struct {
	NoteID          string          `json:"noteId"`
	Title           string          `json:"title"`
	Type            string          `json:"type"`
	Mime            string          `json:"mime"`
	IsProtected     bool            `json:"isProtected"`
	DateModified    time.Time       `json:"utcDateModified"`
	Attributes      []attributeJSON `json:"attributes"`
	OwnedAttributes []string        `json:"ownedAttributeIds"`
	ParentBranches  []branchJSON    `json:"parentBranches"`
	ChildNoteIDs    []string        `json:"childNoteIds"`
	BestNotePath    []string        `json:"bestNotePath"`
}

func toAttributeJSON(a *graph.Attribute) attributeJSON {
	return attributeJSON{
		AttributeID:   a.ID(),
		NoteID:        a.NoteID(),
		Type:          string(a.Type()),
		Name:          a.Name(),
		Value:         a.Value(),
		Position:      a.Position(),
		IsInheritable: a.IsInheritable(),
	}
}

func toBranchJSON(b *graph.Branch) branchJSON {
	return branchJSON{
		BranchID:     b.ID(),
		NoteID:       b.NoteID(),
		ParentNoteID: b.ParentNoteID(),
		Prefix:       b.Prefix(),
		NotePosition: b.NotePosition(),
	}
}

func toNoteJSON(n *graph.Note) noteJSON {
	out := noteJSON{
		NoteID:          n.ID(),
		Title:           n.Title(),
		Type:            string(n.Type()),
		Mime:            n.Mime(),
		IsProtected:     n.IsProtected(),
		DateModified:    n.UTCDateModified(),
		Attributes:      []attributeJSON{},
		OwnedAttributes: []string{},
		ParentBranches:  []branchJSON{},
		ChildNoteIDs:    []string{},
		BestNotePath:    n.BestNotePath(""),
	}
	for _, a := range n.Attributes() {
		out.Attributes = append(out.Attributes, toAttributeJSON(a))
	}
	for _, a := range n.OwnedAttributes() {
		out.OwnedAttributes = append(out.OwnedAttributes, a.ID())
	}
	for _, b := range n.ParentBranches() {
		out.ParentBranches = append(out.ParentBranches, toBranchJSON(b))
	}
	for _, c := range n.ChildNotes() {
		out.ChildNoteIDs = append(out.ChildNoteIDs, c.ID())
	}
	return out
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.writeError(w, badRequest("q parameter required"))
		return
	}

	opts := search.Options{
		FastSearch:           queryBool(r, "fast"),
		AncestorNoteID:       q.Get("ancestor"),
		AncestorDepth:        q.Get("depth"),
		IncludeArchived:      queryBool(r, "archived"),
		IncludeHidden:        queryBool(r, "hidden"),
		OrderBy:              q.Get("orderBy"),
		OrderDirection:       q.Get("orderDirection"),
		Limit:                s.defaultLimit,
		FuzzyAttributeSearch: s.fuzzyAttributes,
		Debug:                queryBool(r, "debug"),
		HoistedNoteID:        q.Get("hoisted"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, badRequest("limit must be a non-negative integer"))
			return
		}
		opts.Limit = limit
	}
	if v := q.Get("fuzzy"); v != "" {
		opts.FuzzyAttributeSearch = queryBool(r, "fuzzy")
	}

	var res *search.Result
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		res = s.search.Find(ctx, query, opts)
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteID")

	var out noteJSON
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		note, err := s.cache.GetNote(noteID)
		if err != nil {
			return err
		}
		out = toNoteJSON(note)
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type notePathJSON struct {
	NotePath        []string `json:"notePath"`
	Title           string   `json:"title"`
	IsInHoistedTree bool     `json:"isInHoistedTree"`
	IsArchived      bool     `json:"isArchived"`
	IsHidden        bool     `json:"isHidden"`
}

func (s *Server) handleNotePaths(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteID")
	hoisted := r.URL.Query().Get("hoisted")

	paths := []notePathJSON{}
	var best []string
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		note, err := s.cache.GetNote(noteID)
		if err != nil {
			return err
		}
		for _, p := range note.SortedNotePaths(hoisted) {
			paths = append(paths, notePathJSON{
				NotePath:        p.NoteIDs,
				Title:           s.cache.PathTitle(p.NoteIDs),
				IsInHoistedTree: p.IsInHoistedTree,
				IsArchived:      p.IsArchived,
				IsHidden:        p.IsHidden,
			})
		}
		best = note.BestNotePath(hoisted)
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paths": paths,
		"best":  best,
	})
}

type relationshipJSON struct {
	ParentNoteID string `json:"parentNoteId"`
	ChildNoteID  string `json:"childNoteId"`
}

func (s *Server) handleSubtree(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteID")
	opts := graph.SubtreeOptions{
		IncludeArchived: queryBool(r, "archived"),
		IncludeHidden:   queryBool(r, "hidden"),
		ResolveSearch:   queryBool(r, "resolveSearch"),
	}

	var ids []string
	rels := []relationshipJSON{}
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		note, err := s.cache.GetNote(noteID)
		if err != nil {
			return err
		}
		sub := note.Subtree(ctx, opts)
		ids = sub.NoteIDs()
		for _, rel := range sub.Relationships {
			rels = append(rels, relationshipJSON{ParentNoteID: rel.ParentNoteID, ChildNoteID: rel.ChildNoteID})
		}
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"noteIds":       ids,
		"relationships": rels,
	})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NoteID       string `json:"noteId"`
		ParentNoteID string `json:"parentNoteId"`
		Title        string `json:"title"`
		Type         string `json:"type"`
		Mime         string `json:"mime"`
		Content      string `json:"content"`
		IsProtected  bool   `json:"isProtected"`
		Prefix       string `json:"prefix"`
		NotePosition *int   `json:"notePosition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid json"))
		return
	}
	if req.ParentNoteID == "" {
		s.writeError(w, badRequest("parentNoteId required"))
		return
	}

	var out noteJSON
	var branch branchJSON
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		note, b, err := s.cache.CreateNote(ctx, graph.NewNote{
			NoteID:       req.NoteID,
			ParentNoteID: req.ParentNoteID,
			Title:        req.Title,
			Type:         graph.NoteType(req.Type),
			Mime:         req.Mime,
			Content:      []byte(req.Content),
			IsProtected:  req.IsProtected,
			Prefix:       req.Prefix,
			NotePosition: req.NotePosition,
		})
		if err != nil {
			return err
		}
		out = toNoteJSON(note)
		branch = toBranchJSON(b)
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"note":   out,
		"branch": branch,
	})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteID")
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		return s.cache.DeleteNote(ctx, noteID)
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAttribute(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteID")

	var req struct {
		Type          string `json:"type"`
		Name          string `json:"name"`
		Value         string `json:"value"`
		IsInheritable bool   `json:"isInheritable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid json"))
		return
	}
	typ := graph.AttributeType(req.Type)
	if !typ.Valid() {
		s.writeError(w, badRequest("type must be label or relation"))
		return
	}

	var out noteJSON
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		note, err := s.cache.GetNote(noteID)
		if err != nil {
			return err
		}
		if req.IsInheritable {
			_, err = note.AddAttribute(ctx, graph.AttributeSpec{
				Type:          typ,
				Name:          req.Name,
				Value:         req.Value,
				IsInheritable: true,
			})
		} else {
			err = note.SetAttribute(ctx, typ, req.Name, req.Value)
		}
		if err != nil {
			return err
		}
		out = toNoteJSON(note)
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemoveAttribute(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteID")
	q := r.URL.Query()
	typ := graph.AttributeType(q.Get("type"))
	name := q.Get("name")
	if !typ.Valid() || name == "" {
		s.writeError(w, badRequest("type and name required"))
		return
	}
	var values []string
	if q.Has("value") {
		values = append(values, q.Get("value"))
	}

	ok := s.exclusive(w, r, func(ctx context.Context) error {
		note, err := s.cache.GetNote(noteID)
		if err != nil {
			return err
		}
		return note.RemoveAttribute(ctx, typ, name, values...)
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NoteID       string `json:"noteId"`
		ParentNoteID string `json:"parentNoteId"`
		Prefix       string `json:"prefix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid json"))
		return
	}
	if req.NoteID == "" || req.ParentNoteID == "" {
		s.writeError(w, badRequest("noteId and parentNoteId required"))
		return
	}

	var out branchJSON
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		b, err := s.cache.CloneNote(ctx, req.NoteID, req.ParentNoteID, req.Prefix)
		if err != nil {
			return err
		}
		out = toBranchJSON(b)
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	var noteDeleted bool
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		var err error
		noteDeleted, err = s.cache.DeleteBranch(ctx, branchID)
		return err
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"noteDeleted": noteDeleted})
}
