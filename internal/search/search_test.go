package search

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/metrics"
	"github.com/lazypower/canopy/internal/protect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, opts ...Option) (*graph.Cache, *Service) {
	t.Helper()
	clock := func() time.Time { return testNow }
	c := graph.New(graph.WithLogger(quietLogger()), graph.WithClock(clock))
	require.NoError(t, c.Load(context.Background()))
	base := []Option{WithLogger(quietLogger()), WithClock(clock)}
	return c, New(c, append(base, opts...)...)
}

func addNote(t *testing.T, c *graph.Cache, parentID, id, title, content string) *graph.Note {
	t.Helper()
	n, _, err := c.CreateNote(context.Background(), graph.NewNote{
		NoteID:       id,
		ParentNoteID: parentID,
		Title:        title,
		Content:      []byte(content),
	})
	require.NoError(t, err)
	return n
}

func addLabel(t *testing.T, n *graph.Note, name, value string, inheritable bool) {
	t.Helper()
	_, err := n.AddLabel(context.Background(), name, value, inheritable)
	require.NoError(t, err)
}

// fruitGraph builds
//
//	root
//	├── A "Fruit"          #fruit
//	│   ├── B "Apple pie"  #course=dessert #rank=10, content mentions cinnamon
//	│   └── C "Banana bread" #rank=9 ~author=P
//	├── P "Bob Smith"
//	└── D "Cherry tart"    #rank=100 #archived
func fruitGraph(t *testing.T, opts ...Option) (*graph.Cache, *Service) {
	t.Helper()
	c, svc := newTestService(t, opts...)
	ctx := context.Background()

	a := addNote(t, c, graph.RootID, "A", "Fruit", "")
	addLabel(t, a, "fruit", "", false)

	b := addNote(t, c, "A", "B", "Apple pie", "<p>The secret recipe uses <em>cinnamon</em></p>")
	addLabel(t, b, "course", "dessert", false)
	addLabel(t, b, "rank", "10", false)

	p := addNote(t, c, graph.RootID, "P", "Bob Smith", "")

	cn := addNote(t, c, "A", "C", "Banana bread", "")
	addLabel(t, cn, "rank", "9", false)
	_, err := cn.AddRelation(ctx, "author", p.ID(), false)
	require.NoError(t, err)

	d := addNote(t, c, graph.RootID, "D", "Cherry tart", "")
	addLabel(t, d, "rank", "100", false)
	addLabel(t, d, "archived", "", false)
	return c, svc
}

func find(t *testing.T, svc *Service, query string, opts Options) *Result {
	t.Helper()
	return svc.Find(context.Background(), query, opts)
}

func TestArchivedLabelQuery(t *testing.T) {
	c, svc := newTestService(t)
	ctx := context.Background()
	a := addNote(t, c, graph.RootID, "A", "Alpha", "")
	addNote(t, c, "A", "B", "Beta", "")

	addLabel(t, a, "archived", "", false)
	res := find(t, svc, "#archived", Options{})
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"A"}, res.NoteIDs())

	require.NoError(t, a.RemoveLabel(ctx, "archived"))
	addLabel(t, a, "archived", "", true)
	res = find(t, svc, "#archived", Options{})
	require.Empty(t, res.Error)
	assert.ElementsMatch(t, []string{"A", "B"}, res.NoteIDs())
}

func TestArchivedNotesExcludedByDefault(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "#rank", Options{})
	assert.ElementsMatch(t, []string{"B", "C"}, res.NoteIDs())

	res = find(t, svc, "#rank", Options{IncludeArchived: true})
	assert.ElementsMatch(t, []string{"B", "C", "D"}, res.NoteIDs())
}

func TestArchivedValueKeepsArchivedFilter(t *testing.T) {
	c, svc := fruitGraph(t)
	addLabel(t, c.Note("B"), "status", "archived", false)
	addLabel(t, c.Note("D"), "status", "archived", false)

	res := find(t, svc, "#status = archived", Options{})
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "#status = archived and note.isArchived = true", Options{})
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"D"}, res.NoteIDs())
}

func TestAncestorDepthGreaterThanOne(t *testing.T) {
	c, svc := newTestService(t)
	addNote(t, c, graph.RootID, "A", "Alpha", "")
	addNote(t, c, "A", "B", "Beta", "")
	addNote(t, c, "B", "C", "Gamma", "")

	sc := newContext(c, Options{}, testNow)
	exp := newAncestorExp(graph.RootID, "gt1", sc)
	got := exp.Execute(context.Background(), NewNoteSet(c.AllNotes()...), sc)
	require.False(t, sc.HasError())
	assert.ElementsMatch(t, []string{"B", "C"}, noteIDs(got.Notes()))

	res := find(t, svc, "note.type = text", Options{AncestorNoteID: graph.RootID, AncestorDepth: "gt1"})
	require.Empty(t, res.Error)
	assert.ElementsMatch(t, []string{"B", "C"}, res.NoteIDs())

	res = find(t, svc, "note.type = text", Options{AncestorNoteID: "A", AncestorDepth: "eq1"})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "note.type = text", Options{AncestorNoteID: "A", AncestorDepth: "lt2"})
	assert.ElementsMatch(t, []string{"A", "B"}, res.NoteIDs())
}

func noteIDs(notes []*graph.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID()
	}
	return out
}

func TestUnknownDepthConditionDoesNotFilter(t *testing.T) {
	c, svc := newTestService(t)
	addNote(t, c, graph.RootID, "A", "Alpha", "")
	addNote(t, c, "A", "B", "Beta", "")

	res := find(t, svc, "note.type = text", Options{AncestorNoteID: "A", AncestorDepth: "zz3"})
	assert.Contains(t, res.Error, `unrecognized depth condition value "zz3"`)
	assert.ElementsMatch(t, []string{"A", "B"}, res.NoteIDs())
}

func TestMissingAncestor(t *testing.T) {
	_, svc := fruitGraph(t)
	res := find(t, svc, "apple", Options{AncestorNoteID: "nope"})
	assert.Contains(t, res.Error, `ancestor note "nope" not found`)
	assert.Empty(t, res.Items)
}

func TestFulltext(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "apple", Options{})
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"B"}, res.NoteIDs())
	assert.Equal(t, []string{"root", "A", "B"}, res.Items[0].NotePath)
	assert.Equal(t, "Fruit / Apple pie", res.Items[0].NotePathTitle)

	// "fruit" is only found on the parent.
	res = find(t, svc, "fruit apple", Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "dessert", Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())
}

func TestFulltextMatchesContentUnlessFast(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "cinnamon", Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "cinnamon", Options{FastSearch: true})
	assert.Empty(t, res.Items)
}

func TestFulltextIgnoresDiacritics(t *testing.T) {
	c, svc := newTestService(t)
	addNote(t, c, graph.RootID, "N", "Crème brûlée", "")

	res := find(t, svc, "creme", Options{})
	require.Equal(t, []string{"N"}, res.NoteIDs())
	assert.Equal(t, "<b>Crème</b> brûlée", res.Items[0].HighlightedNotePathTitle)
}

func TestFulltextMatchesNoteID(t *testing.T) {
	c, svc := newTestService(t)
	addNote(t, c, graph.RootID, "xyzNote1", "Something", "")

	res := find(t, svc, "xyznote1", Options{})
	require.Equal(t, []string{"xyzNote1"}, res.NoteIDs())
	assert.Greater(t, res.Items[0].Score, 99.0)
}

func TestHiddenNotesExcluded(t *testing.T) {
	c, svc := fruitGraph(t)
	addNote(t, c, graph.RootID, graph.HiddenRootID, "Hidden", "")
	addNote(t, c, graph.HiddenRootID, "H", "Apple internals", "")

	res := find(t, svc, "apple", Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "apple", Options{IncludeHidden: true})
	require.ElementsMatch(t, []string{"B", "H"}, res.NoteIDs())
	// Hidden results rank below visible ones.
	assert.Equal(t, "B", res.Items[0].NoteID)
}

func TestRootLabelDoesNotReachHiddenSubtree(t *testing.T) {
	c, svc := newTestService(t)
	_, err := c.Root().AddLabel(context.Background(), "shared", "", true)
	require.NoError(t, err)
	addNote(t, c, graph.RootID, graph.HiddenRootID, "Hidden", "")
	h := addNote(t, c, graph.HiddenRootID, "H", "Config", "")
	addNote(t, c, graph.RootID, "V", "Visible", "")
	require.False(t, h.HasLabel("shared"))

	res := find(t, svc, "#shared", Options{IncludeHidden: true})
	assert.Contains(t, res.NoteIDs(), "V")
	assert.NotContains(t, res.NoteIDs(), "H")
	assert.NotContains(t, res.NoteIDs(), graph.HiddenRootID)
}

func TestProtectedTitleSearchableOnceSessionStarts(t *testing.T) {
	session := protect.NewManager()
	clock := func() time.Time { return testNow }
	c := graph.New(graph.WithLogger(quietLogger()), graph.WithClock(clock), graph.WithProtectedSession(session))
	require.NoError(t, c.Load(context.Background()))
	svc := New(c, WithLogger(quietLogger()), WithClock(clock))

	_, _, err := c.CreateNote(context.Background(), graph.NewNote{
		NoteID: "Z", ParentNoteID: graph.RootID, Title: "zebra", IsProtected: true,
	})
	require.NoError(t, err)

	assert.Empty(t, find(t, svc, "zebra", Options{FastSearch: true}).NoteIDs())

	session.Start(protect.DecrypterFunc(func(b []byte) ([]byte, error) { return b, nil }))
	assert.Equal(t, []string{"Z"}, find(t, svc, "zebra", Options{FastSearch: true}).NoteIDs())

	session.End()
	assert.Empty(t, find(t, svc, "zebra", Options{FastSearch: true}).NoteIDs())
}

func TestLabelComparisons(t *testing.T) {
	_, svc := fruitGraph(t)

	tests := []struct {
		query string
		want  []string
	}{
		{"#course = dessert", []string{"B"}},
		{"#course = Dessert", []string{"B"}},
		{"#course != dessert", nil},
		{"#course =* des", []string{"B"}},
		{"#course *= sert", []string{"B"}},
		{"#course *=* sse", []string{"B"}},
		{"#course %= '^d.s+ert$'", []string{"B"}},
		{"#course ~= dsrt", []string{"B"}},
		{"#rank > 9", []string{"B"}},
		{"#rank >= 9", []string{"B", "C"}},
		{"#rank < 10", []string{"C"}},
		{"#!course", []string{"root", "A", "C", "P"}},
		{"#rank and #course", []string{"B"}},
		{"#course or ~author", []string{"B", "C"}},
		{"#rank not(#course)", []string{"C"}},
		{"#fruit or (#rank and not(#course))", []string{"A", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := find(t, svc, tt.query, Options{})
			require.Empty(t, res.Error)
			assert.ElementsMatch(t, tt.want, res.NoteIDs())
		})
	}
}

func TestFuzzyAttributeSearch(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "#cour", Options{FuzzyAttributeSearch: true})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "#course = ess", Options{FuzzyAttributeSearch: true})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "#cour", Options{})
	assert.Empty(t, res.Items)
}

func TestRelationQueries(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, `~author.title = "bob smith"`, Options{})
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"C"}, res.NoteIDs())

	res = find(t, svc, "~author.title *=* alice", Options{})
	assert.Empty(t, res.Items)

	res = find(t, svc, "~author = bob", Options{})
	assert.Contains(t, res.Error, "Relation can be compared only with property")

	res = find(t, svc, "note.parents.title = fruit", Options{})
	assert.ElementsMatch(t, []string{"B", "C"}, res.NoteIDs())

	res = find(t, svc, "note.children.labels.course = dessert", Options{})
	assert.Equal(t, []string{"A"}, res.NoteIDs())

	res = find(t, svc, "note.ancestors.title = fruit", Options{})
	assert.ElementsMatch(t, []string{"B", "C"}, res.NoteIDs())
}

func TestNoteProperties(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "note.childrencount >= 2", Options{})
	assert.ElementsMatch(t, []string{"root", "A"}, res.NoteIDs())

	res = find(t, svc, `note.title = "banana bread"`, Options{})
	assert.Equal(t, []string{"C"}, res.NoteIDs())

	res = find(t, svc, "note.ownedlabelcount = 2 and note.isarchived = false", Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, "note.dateCreated >= today", Options{})
	assert.Contains(t, res.NoteIDs(), "B")

	res = find(t, svc, "note.dateCreated < today-1", Options{})
	assert.Empty(t, res.Items)

	res = find(t, svc, "note.text *=* cinnamon", Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())
}

func TestContentQueries(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "note.content *=* cinnamon", Options{})
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, `note.content %= "cinn.mon"`, Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, `note.rawContent *=* "<em>"`, Options{})
	assert.Equal(t, []string{"B"}, res.NoteIDs())

	res = find(t, svc, `note.content *=* "<em>"`, Options{})
	assert.Empty(t, res.Items)

	res = find(t, svc, "note.content > x", Options{})
	assert.Contains(t, res.Error, "After content expected operator")
}

func TestOrderByAndLimit(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "#rank orderBy #rank desc", Options{IncludeArchived: true})
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"D", "B", "C"}, res.NoteIDs())

	res = find(t, svc, "#rank orderBy #rank limit 2", Options{IncludeArchived: true})
	assert.Equal(t, []string{"C", "B"}, res.NoteIDs())

	res = find(t, svc, "#rank", Options{OrderBy: "title", OrderDirection: "desc"})
	assert.Equal(t, []string{"C", "B"}, res.NoteIDs())

	res = find(t, svc, "#rank", Options{Limit: 1})
	assert.Len(t, res.Items, 1)

	res = find(t, svc, "#rank and (#rank orderBy #rank)", Options{})
	assert.Contains(t, res.Error, "orderBy can appear only on the top expression level")
}

func TestQueryErrors(t *testing.T) {
	_, svc := fruitGraph(t)

	tests := []struct {
		query string
		want  string
	}{
		{"#a and #b or #c", "Mixed usage of AND/OR"},
		{"#a and (#b", "did not find matching right parenthesis"},
		{"#rank = #course foo", "it's possible to compare with constant only"},
		{"#rank not #course", "not keyword should be followed by sub-expression"},
		{"note.bogus = 1", `Unrecognized note property "bogus"`},
		{"#course %= '('", "invalid regular expression"},
		{"#a orderBy note.bogus", "unrecognized property specifier bogus"},
		{"note.text = x", `supports only *=* operator`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := find(t, svc, tt.query, Options{})
			assert.Contains(t, res.Error, tt.want)
		})
	}
}

func TestFirstErrorWins(t *testing.T) {
	_, svc := fruitGraph(t)
	res := find(t, svc, "#rank = #course foo", Options{})
	assert.Contains(t, res.Error, "compare with constant only")
	assert.NotContains(t, res.Error, "Unrecognized expression")
}

func TestEmptyQuery(t *testing.T) {
	_, svc := fruitGraph(t)
	res := find(t, svc, "   ", Options{})
	assert.Empty(t, res.Error)
	assert.Empty(t, res.Items)
}

func TestCancelledSearch(t *testing.T) {
	_, svc := fruitGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := svc.Find(ctx, "apple", Options{})
	assert.Contains(t, res.Error, "cancelled")
	assert.Empty(t, res.Items)
}

func TestDebugInfo(t *testing.T) {
	_, svc := fruitGraph(t)
	res := find(t, svc, "apple #course = dessert", Options{Debug: true})
	require.NotNil(t, res.Debug)
	assert.Equal(t, []string{"apple"}, res.Debug.FulltextTokens)
	assert.Equal(t, "#course = dessert", res.Debug.ExpressionTokens)
	assert.Contains(t, res.Debug.Expression, `#(course = "dessert")`)
	assert.Contains(t, res.Debug.Expression, "fulltext(apple)")

	res = find(t, svc, "apple", Options{})
	assert.Nil(t, res.Debug)
}

func TestHighlighting(t *testing.T) {
	_, svc := fruitGraph(t)

	res := find(t, svc, "apple", Options{})
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Fruit / <b>Apple</b> pie", res.Items[0].HighlightedNotePathTitle)
	assert.Equal(t, []string{"apple"}, res.HighlightedTokens)

	res = find(t, svc, "#course = dessert", Options{})
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Fruit / Apple pie <small>#<b>course</b>=<b>dessert</b></small>", res.Items[0].HighlightedNotePathTitle)
	assert.Equal(t, []string{"dessert", "course"}, res.HighlightedTokens)
}

func TestResolveSearchNote(t *testing.T) {
	c, svc := fruitGraph(t)
	ctx := context.Background()

	s, _, err := c.CreateNote(ctx, graph.NewNote{NoteID: "S", ParentNoteID: graph.RootID, Title: "Ranked", Type: graph.TypeSearch})
	require.NoError(t, err)

	notes, err := svc.ResolveSearchNote(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, notes)

	addLabel(t, s, "searchString", "#rank", false)
	assert.Equal(t, []string{"S", "B", "C"}, s.SubtreeNoteIDs(ctx, graph.SubtreeOptions{ResolveSearch: true}))

	addLabel(t, s, "orderBy", "title", false)
	addLabel(t, s, "orderDirection", "desc", false)
	notes, err = svc.ResolveSearchNote(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B"}, noteIDs(notes))

	addLabel(t, s, "includeArchivedNotes", "", false)
	addLabel(t, s, "limit", "1", false)
	notes, err = svc.ResolveSearchNote(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"D"}, noteIDs(notes))

	require.NoError(t, s.SetLabel(ctx, "searchString", "#a and #b or #c"))
	_, err = svc.ResolveSearchNote(ctx, s)
	assert.ErrorContains(t, err, "Mixed usage")
	assert.Equal(t, []string{"S"}, s.SubtreeNoteIDs(ctx, graph.SubtreeOptions{ResolveSearch: true}))

	notes, err = svc.ResolveSearchNote(ctx, c.Note("A"))
	require.NoError(t, err)
	assert.Nil(t, notes)
}

func TestResolveSearchNoteAncestorRelation(t *testing.T) {
	c, svc := fruitGraph(t)
	ctx := context.Background()
	s, _, err := c.CreateNote(ctx, graph.NewNote{NoteID: "S", ParentNoteID: graph.RootID, Title: "Scoped", Type: graph.TypeSearch})
	require.NoError(t, err)
	addLabel(t, s, "searchString", "#rank", false)
	addLabel(t, s, "includeArchivedNotes", "", false)
	_, err = s.AddRelation(ctx, "ancestor", "A", false)
	require.NoError(t, err)

	notes, err := svc.ResolveSearchNote(ctx, s)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "C"}, noteIDs(notes))
}

func TestSearchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	_, svc := fruitGraph(t, WithMetrics(m))

	find(t, svc, "apple", Options{})
	find(t, svc, "#a and #b or #c", Options{})

	n, err := testutil.GatherAndCount(reg, "canopy_search_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSearchTimeout(t *testing.T) {
	_, svc := fruitGraph(t, WithTimeout(time.Nanosecond))
	time.Sleep(time.Millisecond)
	res := svc.Find(context.Background(), "apple", Options{})
	assert.Contains(t, res.Error, "cancelled")
}
