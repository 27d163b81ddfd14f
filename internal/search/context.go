package search

import (
	"slices"
	"time"

	"github.com/lazypower/canopy/internal/graph"
)

// Options are the caller-facing knobs of a search.
type Options struct {
	// FastSearch matches titles and attributes only, never note content.
	FastSearch bool
	// AncestorNoteID limits results to the subtree of this note.
	AncestorNoteID string
	// AncestorDepth filters by distance to the ancestor: "eq1", "gt2", "lt5".
	AncestorDepth   string
	IncludeArchived bool
	IncludeHidden   bool
	// OrderBy is a note property; empty or "relevancy" keeps score order.
	OrderBy        string
	OrderDirection string // "asc" or "desc"
	// Limit caps the number of results; 0 means no limit.
	Limit int
	// FuzzyAttributeSearch matches attribute names by prefix and label
	// values by substring.
	FuzzyAttributeSearch bool
	Debug                bool
	HoistedNoteID        string
}

// Context carries the options and the state of one search run: errors,
// tokens to highlight and the paths through which full-text matched.
type Context struct {
	Options

	cache *graph.Cache
	now   time.Time

	fulltextQuery     string
	highlightedTokens []string
	err               string
	// notePaths remembers the path through which a note matched full text.
	notePaths map[string][]string
}

func newContext(cache *graph.Cache, opts Options, now time.Time) *Context {
	if opts.OrderDirection == "" {
		opts.OrderDirection = "asc"
	}
	return &Context{
		Options:   opts,
		cache:     cache,
		now:       now,
		notePaths: make(map[string][]string),
	}
}

// AddError records a query error. Only the first is kept; later errors are
// usually consequences of it.
func (sc *Context) AddError(msg string) {
	if sc.err == "" {
		sc.err = msg
	}
}

func (sc *Context) HasError() bool { return sc.err != "" }

// Error returns the first recorded query error, or "".
func (sc *Context) Error() string { return sc.err }

func (sc *Context) highlight(tokens ...string) {
	for _, t := range tokens {
		if t != "" && !slices.Contains(sc.highlightedTokens, t) {
			sc.highlightedTokens = append(sc.highlightedTokens, t)
		}
	}
}
