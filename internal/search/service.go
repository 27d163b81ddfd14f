package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/metrics"
)

// DefaultRegexTTL is how long a compiled "%=" pattern stays cached.
const DefaultRegexTTL = 10 * time.Minute

// Service runs queries against a graph cache. It does not lock the cache;
// callers hold Cache.Exclusive around a search like around any read.
type Service struct {
	cache   *graph.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	regexes *regexCache
	timeout time.Duration
	clock   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTimeout bounds every search; zero means no bound beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithRegexTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.regexes = newRegexCache(ttl)
		}
	}
}

// WithClock sets the time date constants such as "today" resolve against.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// New returns a search service over cache and registers it as the cache's
// resolver for search notes.
func New(cache *graph.Cache, opts ...Option) *Service {
	s := &Service{
		cache:   cache,
		logger:  slog.Default(),
		regexes: newRegexCache(DefaultRegexTTL),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	cache.SetSearchResolver(s)
	return s
}

// Find evaluates query and returns ranked, highlighted results. Query
// problems are reported in Result.Error rather than returned.
func (s *Service) Find(ctx context.Context, query string, opts Options) *Result {
	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, status := s.find(ctx, query, opts)

	elapsed := time.Since(start)
	s.metrics.ObserveSearch(elapsed, status)
	s.logger.Debug("search finished",
		"query", query,
		"results", len(res.Items),
		"status", status,
		"duration", elapsed,
	)
	if res.Error != "" {
		s.logger.Info("search query error", "query", query, "error", res.Error)
	}
	return res
}

func (s *Service) find(ctx context.Context, query string, opts Options) (*Result, string) {
	res := &Result{Items: []Item{}, HighlightedTokens: []string{}}
	if strings.TrimSpace(query) == "" {
		return res, metrics.StatusOK
	}

	sc := newContext(s.cache, opts, s.clock())
	lexed := Lex(query)
	sc.fulltextQuery = strings.TrimSpace(lexed.FulltextQuery)

	nodes, err := GroupParens(lexed.ExpressionTokens)
	if err != nil {
		res.Error = err.Error()
		return res, metrics.StatusQueryErr
	}

	p := &parser{sc: sc, regexes: s.regexes}
	exp := p.parse(lexed, nodes)

	if sc.Debug {
		res.Debug = &Debug{
			ExpressionTokens: renderNodes(nodes),
			Expression:       expString(exp),
		}
		for _, t := range lexed.FulltextTokens {
			res.Debug.FulltextTokens = append(res.Debug.FulltextTokens, t.Token)
		}
	}

	var found *NoteSet
	if exp != nil {
		found = exp.Execute(ctx, s.inputSet(sc), sc)
	} else {
		found = NewNoteSet()
	}

	if err := ctx.Err(); err != nil {
		res.Error = sc.Error()
		if res.Error == "" {
			res.Error = "search cancelled: " + err.Error()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("search timed out", "query", query)
		}
		return res, metrics.StatusCancelled
	}

	res.Items = s.items(found, sc)
	res.HighlightedTokens = highlightTokens(sc.highlightedTokens)
	for i := range res.Items {
		if n := s.cache.Note(res.Items[i].NoteID); n != nil {
			highlightItem(&res.Items[i], n, res.HighlightedTokens)
		}
	}

	res.Error = sc.Error()
	if res.Error != "" {
		return res, metrics.StatusQueryErr
	}
	return res, metrics.StatusOK
}

// inputSet is every note a search may return. Notes only reachable through
// the hidden subtree are left out unless asked for or searched under.
func (s *Service) inputSet(sc *Context) *NoteSet {
	includeHidden := sc.IncludeHidden
	if anc := s.cache.Note(sc.AncestorNoteID); anc != nil && anc.IsInHiddenSubtree() {
		includeHidden = true
	}
	all := s.cache.AllNotes()
	if includeHidden {
		return NewNoteSet(all...)
	}
	set := NewNoteSet()
	for _, n := range all {
		if !n.IsHiddenCompletely() {
			set.Add(n)
		}
	}
	return set
}

func (s *Service) items(found *NoteSet, sc *Context) []Item {
	items := make([]Item, 0, found.Len())
	tokens := sc.highlightedTokens
	for _, n := range found.Notes() {
		path, ok := sc.notePaths[n.ID()]
		if !ok {
			path = n.BestNotePath(sc.HoistedNoteID)
		}
		if path == nil {
			s.logger.Warn("search result has no path to root", "note_id", n.ID())
			continue
		}
		it := Item{
			NoteID:        n.ID(),
			NotePath:      path,
			NotePathTitle: s.cache.PathTitle(path),
		}
		if sc.fulltextQuery != "" {
			it.Score = score(n, it.NotePathTitle, sc.fulltextQuery, tokens)
		}
		items = append(items, it)
	}

	if !found.sorted {
		rank(items)
	}
	if !found.sorted && sc.Limit > 0 && len(items) > sc.Limit {
		items = items[:sc.Limit]
	}
	return items
}

// FindNotes runs query and returns the matching notes in rank order. A
// query error is returned as an error.
func (s *Service) FindNotes(ctx context.Context, query string, opts Options) ([]*graph.Note, error) {
	res := s.Find(ctx, query, opts)
	if res.Error != "" {
		return nil, fmt.Errorf("search %q: %s", query, res.Error)
	}
	return s.cache.Notes(res.NoteIDs()), nil
}

// ResolveSearchNote computes the members of a search-type note from its
// labels: searchString, ancestorDepth, orderBy, orderDirection, limit,
// fastSearch, includeArchivedNotes, debug, and the ancestor relation.
func (s *Service) ResolveSearchNote(ctx context.Context, note *graph.Note) ([]*graph.Note, error) {
	if note == nil || note.Type() != graph.TypeSearch {
		return nil, nil
	}
	query := note.LabelValue("searchString")
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	opts := Options{
		FastSearch:      note.IsLabelTruthy("fastSearch"),
		IncludeArchived: note.IsLabelTruthy("includeArchivedNotes"),
		AncestorDepth:   note.LabelValue("ancestorDepth"),
		OrderBy:         note.LabelValue("orderBy"),
		OrderDirection:  note.LabelValue("orderDirection"),
		Debug:           note.IsLabelTruthy("debug"),
	}
	if v := note.LabelValue("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("search note %s: invalid limit %q", note.ID(), v)
		}
		opts.Limit = limit
	}
	if anc := note.RelationTarget("ancestor"); anc != nil {
		opts.AncestorNoteID = anc.ID()
	}

	notes, err := s.FindNotes(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("search note %s: %w", note.ID(), err)
	}
	out := notes[:0]
	for _, n := range notes {
		if !n.IsRoot() && n.ID() != note.ID() {
			out = append(out, n)
		}
	}
	return out, nil
}
