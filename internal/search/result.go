package search

import (
	"html"
	"slices"
	"sort"
	"strings"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/textnorm"
)

// Item is one ranked search hit.
type Item struct {
	NoteID                   string   `json:"noteId"`
	NotePath                 []string `json:"notePath"`
	NotePathTitle            string   `json:"notePathTitle"`
	HighlightedNotePathTitle string   `json:"highlightedNotePathTitle"`
	Score                    float64  `json:"score"`
}

// Debug describes how a query was understood.
type Debug struct {
	FulltextTokens   []string `json:"fulltextTokens"`
	ExpressionTokens string   `json:"expressionTokens"`
	Expression       string   `json:"expression"`
}

// Result is the outcome of a search. A query error does not prevent a
// (possibly empty) result; Error carries the first problem found.
type Result struct {
	Items             []Item   `json:"results"`
	HighlightedTokens []string `json:"highlightedTokens"`
	Error             string   `json:"error,omitempty"`
	Debug             *Debug   `json:"debug,omitempty"`
}

// NoteIDs returns the ids of the result items in rank order.
func (r *Result) NoteIDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.NoteID
	}
	return ids
}

// score ranks a hit against the full-text part of the query.
func score(n *graph.Note, pathTitle, fulltextQuery string, tokens []string) float64 {
	var s float64
	if strings.ToLower(n.ID()) == fulltextQuery {
		s += 100
	}
	title := textnorm.Normalize(n.Title())
	if fulltextQuery != "" && title == fulltextQuery {
		s += 100
	}
	s += tokenScore(tokens, title, 1.5)
	s += tokenScore(tokens, textnorm.Normalize(pathTitle), 0.3)
	if n.IsInHiddenSubtree() {
		s /= 2
	}
	return s
}

// tokenScore rewards tokens matching whole words over prefixes over
// substrings, weighted by token length.
func tokenScore(tokens []string, str string, factor float64) float64 {
	var s float64
	for _, chunk := range strings.Fields(str) {
		for _, t := range tokens {
			l := float64(len([]rune(t)))
			switch {
			case chunk == t:
				s += 4 * l * factor
			case strings.HasPrefix(chunk, t):
				s += 2 * l * factor
			case strings.Contains(chunk, t):
				s += l * factor
			}
		}
	}
	return s
}

// rank orders items by score, then shorter path, then path title.
func rank(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.NotePath) != len(b.NotePath) {
			return len(a.NotePath) < len(b.NotePath)
		}
		return a.NotePathTitle < b.NotePathTitle
	})
}

// highlightTokens returns the tokens worth emphasizing, longest first so a
// longer token is marked before its substrings.
func highlightTokens(tokens []string) []string {
	out := slices.Clone(tokens)
	out = slices.DeleteFunc(out, func(t string) bool { return strings.TrimSpace(t) == "" })
	sort.SliceStable(out, func(i, j int) bool { return len([]rune(out[i])) > len([]rune(out[j])) })
	return out
}

// highlightItem fills HighlightedNotePathTitle: the path title plus any
// attributes mentioning a token, with matches wrapped in <b>.
func highlightItem(it *Item, n *graph.Note, tokens []string) {
	var b strings.Builder
	b.WriteString(highlight(it.NotePathTitle, tokens))

	for _, a := range n.Attributes() {
		if !mentionsAny(a, tokens) {
			continue
		}
		text := "#" + a.Name()
		if a.Type() == graph.Relation {
			text = "~" + a.Name()
		}
		if a.Value() != "" {
			text += "=" + a.Value()
		}
		b.WriteString(" <small>")
		b.WriteString(highlight(text, tokens))
		b.WriteString("</small>")
	}
	it.HighlightedNotePathTitle = b.String()
}

func mentionsAny(a *graph.Attribute, tokens []string) bool {
	name, value := textnorm.Normalize(a.Name()), textnorm.Normalize(a.Value())
	for _, t := range tokens {
		if strings.Contains(name, t) || strings.Contains(value, t) {
			return true
		}
	}
	return false
}

// highlight escapes s and wraps the runs matching any token in <b>.
// Matching happens on normalized text and maps back rune by rune, so
// "Crème" is highlighted for the token "creme".
func highlight(s string, tokens []string) string {
	orig := []rune(s)
	var folded []rune
	var origIndex []int
	for i, r := range orig {
		for _, fr := range textnorm.Normalize(string(r)) {
			folded = append(folded, fr)
			origIndex = append(origIndex, i)
		}
	}

	marked := make([]bool, len(orig))
	for _, t := range tokens {
		tr := []rune(t)
		if len(tr) == 0 {
			continue
		}
		for i := 0; i+len(tr) <= len(folded); i++ {
			if slices.Equal(folded[i:i+len(tr)], tr) {
				for k := i; k < i+len(tr); k++ {
					marked[origIndex[k]] = true
				}
			}
		}
	}

	var b strings.Builder
	for i := 0; i < len(orig); {
		j := i
		for j < len(orig) && marked[j] == marked[i] {
			j++
		}
		seg := html.EscapeString(string(orig[i:j]))
		if marked[i] {
			b.WriteString("<b>" + seg + "</b>")
		} else {
			b.WriteString(seg)
		}
		i = j
	}
	return b.String()
}
