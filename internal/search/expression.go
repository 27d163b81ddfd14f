package search

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/textnorm"
)

// Expression is a node of a parsed query. Execute narrows or extends the
// input set; it never fails, problems are recorded on the search context.
type Expression interface {
	Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet
	String() string
}

// cancelled records the context error once and reports whether evaluation
// should stop.
func cancelled(ctx context.Context, sc *Context) bool {
	if err := ctx.Err(); err != nil {
		sc.AddError("search cancelled: " + err.Error())
		return true
	}
	return false
}

// andExp feeds each sub-expression the result of the previous one.
type andExp struct{ subs []Expression }

// andOf drops nil operands and avoids a wrapper around a single operand.
func andOf(subs ...Expression) Expression {
	subs = slices.DeleteFunc(subs, func(e Expression) bool { return e == nil })
	switch len(subs) {
	case 0:
		return nil
	case 1:
		return subs[0]
	}
	return &andExp{subs: subs}
}

func (e *andExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	for _, sub := range e.subs {
		if cancelled(ctx, sc) {
			return NewNoteSet()
		}
		in = sub.Execute(ctx, in, sc)
	}
	return in
}

func (e *andExp) String() string { return joinExps("AND", e.subs) }

// orExp unions the results of its sub-expressions over the same input.
type orExp struct{ subs []Expression }

func orOf(subs ...Expression) Expression {
	subs = slices.DeleteFunc(subs, func(e Expression) bool { return e == nil })
	switch len(subs) {
	case 0:
		return nil
	case 1:
		return subs[0]
	}
	return &orExp{subs: subs}
}

func (e *orExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	for _, sub := range e.subs {
		if cancelled(ctx, sc) {
			return NewNoteSet()
		}
		out = out.Union(sub.Execute(ctx, in, sc))
	}
	return out
}

func (e *orExp) String() string { return joinExps("OR", e.subs) }

func joinExps(op string, subs []Expression) string {
	parts := make([]string, len(subs))
	for i, s := range subs {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

type notExp struct{ sub Expression }

func (e *notExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	if e.sub == nil {
		return in
	}
	return in.Minus(e.sub.Execute(ctx, in, sc))
}

func (e *notExp) String() string {
	if e.sub == nil {
		return "NOT()"
	}
	return "NOT(" + e.sub.String() + ")"
}

// withInheritors adds the notes an attribute applies to: the owner's whole
// subtree for inheritable attributes, the owner and its template users
// otherwise.
func withInheritors(out *NoteSet, a *graph.Attribute) {
	owner := a.Note()
	if owner == nil {
		return
	}
	switch {
	case a.IsInheritable():
		out.AddAll(owner.SubtreeNotesIncludingTemplated())
	case owner.IsInherited():
		out.AddAll(owner.InheritingNotes())
	default:
		out.Add(owner)
	}
}

// attributeExistsExp matches notes having a label or relation of a name.
type attributeExistsExp struct {
	typ         graph.AttributeType
	name        string
	prefixMatch bool
}

func (e *attributeExistsExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	var attrs []*graph.Attribute
	if e.prefixMatch {
		attrs = sc.cache.FindAttributesWithPrefix(e.typ, e.name)
		if len(attrs) == 0 {
			attrs = fuzzyAttributes(sc.cache, e.typ, e.name)
		}
	} else {
		attrs = sc.cache.FindAttributes(e.typ, e.name)
	}

	out := NewNoteSet()
	for _, a := range attrs {
		withInheritors(out, a)
	}
	return out.Intersect(in)
}

func (e *attributeExistsExp) String() string {
	return fmt.Sprintf("%s(%s)", sigil(e.typ), e.name)
}

func sigil(t graph.AttributeType) string {
	if t == graph.Relation {
		return "~"
	}
	return "#"
}

// labelComparisonExp matches notes whose attribute value satisfies a comparator.
type labelComparisonExp struct {
	typ        graph.AttributeType
	name       string
	op, value  string
	comparator Comparator
}

func (e *labelComparisonExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	for _, a := range sc.cache.FindAttributes(e.typ, e.name) {
		if a.Note() == nil {
			continue
		}
		if e.comparator(strings.ToLower(a.Value())) {
			withInheritors(out, a)
		}
	}
	return out.Intersect(in)
}

func (e *labelComparisonExp) String() string {
	return fmt.Sprintf("%s(%s %s %q)", sigil(e.typ), e.name, e.op, e.value)
}

// relationWhereExp matches notes having a relation whose target satisfies
// the sub-expression.
type relationWhereExp struct {
	name string
	sub  Expression
}

func (e *relationWhereExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	if e.sub == nil {
		return out
	}
	for _, a := range sc.cache.FindAttributes(graph.Relation, e.name) {
		target := a.TargetNote()
		if target == nil || a.Note() == nil {
			continue
		}
		if e.sub.Execute(ctx, NewNoteSet(target), sc).Len() > 0 {
			withInheritors(out, a)
		}
	}
	return out.Intersect(in)
}

func (e *relationWhereExp) String() string {
	sub := "?"
	if e.sub != nil {
		sub = e.sub.String()
	}
	return fmt.Sprintf("~%s.(%s)", e.name, sub)
}

// propertyComparisonExp compares a note property with a constant.
type propertyComparisonExp struct {
	property   string
	op, value  string
	comparator Comparator
}

func (e *propertyComparisonExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	for _, n := range in.Notes() {
		if e.comparator(propertyValue(ctx, n, e.property)) {
			out.Add(n)
		}
	}
	return out
}

func (e *propertyComparisonExp) String() string {
	return fmt.Sprintf("note.%s %s %q", e.property, e.op, e.value)
}

// ancestorExp keeps notes in the subtree of an ancestor, optionally at a
// given distance from it.
type ancestorExp struct {
	ancestorNoteID string
	depth          string
	depthOK        func(int) bool
}

func newAncestorExp(ancestorNoteID, depth string, sc *Context) *ancestorExp {
	e := &ancestorExp{ancestorNoteID: ancestorNoteID, depth: depth}
	if depth == "" {
		return e
	}
	cmp, err := depthComparator(depth)
	if err != nil {
		sc.AddError(err.Error())
		return e
	}
	e.depthOK = cmp
	return e
}

// depthComparator parses "eqN", "gtN" or "ltN".
func depthComparator(depth string) (func(int) bool, error) {
	if len(depth) > 2 {
		n, err := strconv.Atoi(depth[2:])
		if err == nil {
			switch depth[:2] {
			case "eq":
				return func(d int) bool { return d == n }, nil
			case "gt":
				return func(d int) bool { return d > n }, nil
			case "lt":
				return func(d int) bool { return d < n }, nil
			}
		}
	}
	return nil, fmt.Errorf("unrecognized depth condition value %q", depth)
}

func (e *ancestorExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	ancestor := sc.cache.Note(e.ancestorNoteID)
	if ancestor == nil {
		sc.AddError(fmt.Sprintf("ancestor note %q not found", e.ancestorNoteID))
		return NewNoteSet()
	}

	subtree := ancestor.Subtree(ctx, graph.SubtreeOptions{
		IncludeArchived: true,
		IncludeHidden:   sc.IncludeHidden || ancestor.IsInHiddenSubtree(),
	})
	out := NewNoteSet(subtree.Notes...).Intersect(in)
	if e.depthOK == nil {
		return out
	}

	filtered := NewNoteSet()
	for _, n := range out.Notes() {
		if e.depthOK(n.DistanceToAncestor(ancestor.ID())) {
			filtered.Add(n)
		}
	}
	return filtered
}

func (e *ancestorExp) String() string {
	if e.depth == "" {
		return fmt.Sprintf("ancestor(%s)", e.ancestorNoteID)
	}
	return fmt.Sprintf("ancestor(%s, %s)", e.ancestorNoteID, e.depth)
}

// childOfExp keeps notes with a parent matching the sub-expression.
type childOfExp struct{ sub Expression }

func (e *childOfExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	if e.sub == nil {
		return out
	}
	parents := NewNoteSet()
	for _, n := range in.Notes() {
		parents.AddAll(n.ParentNotes())
	}
	for _, p := range e.sub.Execute(ctx, parents, sc).Notes() {
		for _, child := range p.ChildNotes() {
			if in.Has(child) {
				out.Add(child)
			}
		}
	}
	return out
}

func (e *childOfExp) String() string { return "parents(" + expString(e.sub) + ")" }

// parentOfExp keeps notes with a child matching the sub-expression.
type parentOfExp struct{ sub Expression }

func (e *parentOfExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	if e.sub == nil {
		return out
	}
	children := NewNoteSet()
	for _, n := range in.Notes() {
		children.AddAll(n.ChildNotes())
	}
	for _, ch := range e.sub.Execute(ctx, children, sc).Notes() {
		for _, p := range ch.ParentNotes() {
			if in.Has(p) {
				out.Add(p)
			}
		}
	}
	return out
}

func (e *parentOfExp) String() string { return "children(" + expString(e.sub) + ")" }

// descendantOfExp keeps notes with an ancestor matching the sub-expression.
type descendantOfExp struct{ sub Expression }

func (e *descendantOfExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	if e.sub == nil {
		return out
	}
	all := NewNoteSet(sc.cache.AllNotes()...)
	for _, anc := range e.sub.Execute(ctx, all, sc).Notes() {
		for _, n := range anc.Subtree(ctx, graph.SubtreeOptions{IncludeArchived: true, IncludeHidden: true}).Notes {
			if n != anc {
				out.Add(n)
			}
		}
	}
	return out.Intersect(in)
}

func (e *descendantOfExp) String() string { return "ancestors(" + expString(e.sub) + ")" }

func expString(e Expression) string {
	if e == nil {
		return "?"
	}
	return e.String()
}

// noteFlatTextExp is full-text matching over titles and attributes. Every
// token has to be found either in the note itself or in one of its
// ancestors along a single path.
type noteFlatTextExp struct{ tokens []string }

func (e *noteFlatTextExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()

	var searchUp func(n *graph.Note, tokens, path []string)
	searchUp = func(n *graph.Note, tokens, path []string) {
		if len(tokens) == 0 {
			full := n.BestNotePath(sc.HoistedNoteID)
			if full == nil {
				return
			}
			full = append(slices.Clone(full), path...)
			id := full[len(full)-1]
			if !out.HasID(id) {
				sc.notePaths[id] = full
				out.Add(sc.cache.Note(id))
			}
			return
		}
		if n.IsRoot() || len(n.ParentBranches()) == 0 {
			return
		}

		attrTokens := e.ownTokens(n, tokens)
		nextPath := append([]string{n.ID()}, path...)
		for _, b := range n.ParentBranches() {
			parent := b.ParentNote()
			if parent == nil {
				continue
			}
			found := append(slices.Clone(attrTokens), matchTokens(branchTitle(b, n), tokens)...)
			remaining := slices.DeleteFunc(slices.Clone(tokens), func(t string) bool { return slices.Contains(found, t) })
			searchUp(parent, remaining, nextPath)
		}
	}

	for _, n := range in.Notes() {
		if cancelled(ctx, sc) {
			return out
		}
		if !e.isCandidate(n) {
			continue
		}
		if len(e.tokens) == 1 && strings.ToLower(n.ID()) == e.tokens[0] {
			searchUp(n, nil, nil)
			continue
		}

		attrTokens := e.ownTokens(n, e.tokens)
		for _, b := range n.ParentBranches() {
			parent := b.ParentNote()
			if parent == nil {
				continue
			}
			found := append(slices.Clone(attrTokens), matchTokens(branchTitle(b, n), e.tokens)...)
			if len(found) == 0 {
				continue
			}
			remaining := slices.DeleteFunc(slices.Clone(e.tokens), func(t string) bool { return slices.Contains(found, t) })
			searchUp(parent, remaining, []string{n.ID()})
		}
		if n.IsRoot() {
			found := append(attrTokens, matchTokens(textnorm.Normalize(n.Title()), e.tokens)...)
			if !slices.ContainsFunc(e.tokens, func(t string) bool { return !slices.Contains(found, t) }) {
				searchUp(n, nil, nil)
			}
		}
	}
	return out
}

// isCandidate is the cheap pre-filter: at least one token in the flat text.
func (e *noteFlatTextExp) isCandidate(n *graph.Note) bool {
	flat := n.FlatText()
	for _, t := range e.tokens {
		if strings.Contains(flat, t) {
			return true
		}
	}
	return false
}

// ownTokens returns the tokens found in the note's type, mime or owned attributes.
func (e *noteFlatTextExp) ownTokens(n *graph.Note, tokens []string) []string {
	var found []string
	for _, t := range tokens {
		if strings.Contains(string(n.Type()), t) || strings.Contains(n.Mime(), t) {
			found = append(found, t)
			continue
		}
		for _, a := range n.OwnedAttributes() {
			if strings.Contains(textnorm.Normalize(a.Name()), t) || strings.Contains(textnorm.Normalize(a.Value()), t) {
				found = append(found, t)
				break
			}
		}
	}
	return found
}

func matchTokens(s string, tokens []string) []string {
	var found []string
	for _, t := range tokens {
		if strings.Contains(s, t) {
			found = append(found, t)
		}
	}
	return found
}

// branchTitle is the normalized title of n as shown under branch b.
func branchTitle(b *graph.Branch, n *graph.Note) string {
	title := n.Title()
	if b.Prefix() != "" {
		title = b.Prefix() + " - " + title
	}
	return textnorm.Normalize(title)
}

func (e *noteFlatTextExp) String() string {
	return fmt.Sprintf("fulltext(%s)", strings.Join(e.tokens, ", "))
}

// noteContentExp matches note content. With flatText set a token may also
// be found in the flat text of the note.
type noteContentExp struct {
	op       string
	tokens   []string
	raw      bool
	flatText bool
	re       *regexp.Regexp
}

// contentOperators are the operators note.content accepts.
var contentOperators = []string{"=", "!=", "*=*", "*=", "=*", "%="}

func (e *noteContentExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	out := NewNoteSet()
	for _, n := range in.Notes() {
		if cancelled(ctx, sc) {
			return out
		}
		if !hasSearchableContent(n.Type()) || !n.IsContentAvailable() {
			continue
		}
		raw, err := n.Content(ctx)
		if err != nil {
			sc.cache.Logger().Warn("could not load content for search", "note_id", n.ID(), "error", err)
			continue
		}
		if len(raw) == 0 {
			continue
		}
		if e.matches(flattenContent(raw, n.Type(), n.Mime(), e.raw), n) {
			out.Add(n)
		}
	}
	return out
}

func (e *noteContentExp) matches(content string, n *graph.Note) bool {
	if len(e.tokens) == 1 {
		token := e.tokens[0]
		switch e.op {
		case "=":
			return content == token
		case "!=":
			return content != token
		case "*=":
			return strings.HasSuffix(content, token)
		case "=*":
			return strings.HasPrefix(content, token)
		case "*=*":
			return strings.Contains(content, token)
		case "%=":
			return e.re != nil && e.re.MatchString(content)
		}
		return false
	}

	var flat string
	if e.flatText {
		flat = n.FlatText()
	}
	for _, t := range e.tokens {
		if !strings.Contains(content, t) && (!e.flatText || !strings.Contains(flat, t)) {
			return false
		}
	}
	return true
}

func (e *noteContentExp) String() string {
	name := "content"
	if e.raw {
		name = "rawContent"
	}
	return fmt.Sprintf("note.%s %s %q", name, e.op, strings.Join(e.tokens, " "))
}

// orderDefinition is one "orderBy" key.
type orderDefinition struct {
	extractor *ValueExtractor
	desc      bool
}

// orderByAndLimitExp sorts the result of its sub-expression and cuts it to
// limit. The result is marked sorted so ranking leaves the order alone.
type orderByAndLimitExp struct {
	orders []orderDefinition
	limit  int
	sub    Expression
}

func (e *orderByAndLimitExp) Execute(ctx context.Context, in *NoteSet, sc *Context) *NoteSet {
	if e.sub != nil {
		in = e.sub.Execute(ctx, in, sc)
	}
	notes := slices.Clone(in.Notes())

	type keyed struct {
		vals []string
		oks  []bool
	}
	keys := make(map[string]keyed, len(notes))
	for _, n := range notes {
		var k keyed
		for _, o := range e.orders {
			v, ok := o.extractor.Extract(ctx, n)
			k.vals = append(k.vals, v)
			k.oks = append(k.oks, ok && v != "")
		}
		keys[n.ID()] = k
	}

	sort.SliceStable(notes, func(i, j int) bool {
		a, b := keys[notes[i].ID()], keys[notes[j].ID()]
		for k, o := range e.orders {
			c := compareValues(a.vals[k], a.oks[k], b.vals[k], b.oks[k])
			if c == 0 {
				continue
			}
			if o.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if e.limit > 0 && len(notes) > e.limit {
		notes = notes[:e.limit]
	}
	out := NewNoteSet(notes...)
	out.sorted = true
	return out
}

// compareValues orders numbers numerically and everything else as
// strings. A missing value sorts after a present one.
func compareValues(a string, aok bool, b string, bok bool) int {
	switch {
	case !aok && !bok:
		return 0
	case !bok:
		return -1
	case !aok:
		return 1
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func (e *orderByAndLimitExp) String() string {
	parts := make([]string, len(e.orders))
	for i, o := range e.orders {
		dir := "asc"
		if o.desc {
			dir = "desc"
		}
		parts[i] = o.extractor.String() + " " + dir
	}
	s := "orderBy(" + strings.Join(parts, ", ") + ")"
	if e.limit > 0 {
		s += " limit " + strconv.Itoa(e.limit)
	}
	if e.sub != nil {
		s += " of " + e.sub.String()
	}
	return s
}
