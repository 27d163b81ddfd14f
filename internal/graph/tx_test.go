package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/canopy/internal/events"
	"github.com/lazypower/canopy/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) consume(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) list() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newRecordingBus(t *testing.T) (*events.Bus, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg := events.DefaultConfig()
	cfg.Logger = quietLogger()
	bus := events.New(cfg)
	require.NoError(t, bus.Subscribe(events.ConsumerFunc("recorder", rec.consume)))
	return bus, rec
}

func TestMutationsEmitEvents(t *testing.T) {
	bus, rec := newRecordingBus(t)
	c := testCache(t, WithBus(bus))
	ctx := context.Background()

	a := mkNote(t, c, RootID, "A", "A")
	require.NoError(t, a.SetLabel(ctx, "status", "open"))
	require.NoError(t, a.SetLabel(ctx, "status", "open"))
	require.NoError(t, c.DeleteNote(ctx, "A"))
	require.NoError(t, bus.Shutdown(time.Second))

	var kinds []string
	for _, e := range rec.list() {
		if e.NoteID == "A" && e.EntityName != entityBlobs {
			kinds = append(kinds, e.EntityName+":"+string(e.Kind))
		}
	}
	assert.Equal(t, []string{
		"notes:" + string(events.KindCreated),
		"branches:" + string(events.KindCreated),
		"attributes:" + string(events.KindCreated),
		"branches:" + string(events.KindDeleted),
		"attributes:" + string(events.KindDeleted),
		"notes:" + string(events.KindDeleted),
	}, kinds)
}

func TestTransactRollsBackCache(t *testing.T) {
	bus, rec := newRecordingBus(t)
	c := testCache(t, WithBus(bus))
	ctx := context.Background()
	mkNote(t, c, RootID, "A", "A")

	boom := errors.New("boom")
	err := c.Transact(ctx, func(ctx context.Context) error {
		n, _, err := c.CreateNote(ctx, NewNote{NoteID: "B", ParentNoteID: "A", Title: "B"})
		require.NoError(t, err)
		_, err = n.AddLabel(ctx, "draft", "", false)
		require.NoError(t, err)
		require.NoError(t, c.Note("A").SetTitle(ctx, "renamed"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, bus.Shutdown(time.Second))

	assert.Nil(t, c.Note("B"))
	assert.Empty(t, c.FindAttributes(Label, "draft"))
	assert.Equal(t, "A", c.Note("A").Title())
	assert.Empty(t, c.Note("A").ChildNotes())
	for _, e := range rec.list() {
		assert.NotEqual(t, "B", e.NoteID, "events of a rolled back transaction are dropped")
		assert.False(t, e.EntityName == entityNotes && e.Kind == events.KindUpdated, "rename was rolled back")
	}
}

func TestNestedTransactJoinsOuter(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	err := c.Transact(ctx, func(ctx context.Context) error {
		return c.Transact(ctx, func(ctx context.Context) error {
			mkNote(t, c, RootID, "inner", "Inner")
			return errors.New("inner failed")
		})
	})
	require.Error(t, err)
	assert.Nil(t, c.Note("inner"))
}

func TestStoreBackedRoundTrip(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	c := testCache(t, WithStore(db))
	_, _, err = c.CreateNote(ctx, NewNote{
		NoteID: "A", ParentNoteID: RootID, Title: "Alpha", Content: []byte("<p>hello</p>"), Prefix: "p",
	})
	require.NoError(t, err)
	mkNote(t, c, "A", "B", "Beta")
	_, err = c.Note("A").AddLabel(ctx, "archived", "", true)
	require.NoError(t, err)
	_, err = c.Note("B").AddRelation(ctx, "up", "A", false)
	require.NoError(t, err)
	mkNote(t, c, RootID, "gone", "Gone")
	require.NoError(t, c.DeleteNote(ctx, "gone"))

	reloaded := testCache(t, WithStore(db))
	a, err := reloaded.GetNote("A")
	require.NoError(t, err)
	b, err := reloaded.GetNote("B")
	require.NoError(t, err)

	assert.Equal(t, "Alpha", a.Title())
	assert.Equal(t, "p", a.ParentBranches()[0].Prefix())
	assert.True(t, b.IsArchived())
	assert.Same(t, a, b.RelationTarget("up"))
	assert.Equal(t, [][]string{{"root", "A", "B"}}, b.AllNotePaths())
	assert.Nil(t, reloaded.Note("gone"))

	content, err := a.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", string(content))

	changes, err := db.EntityChanges(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, changes)
}

func TestStoreTransactRollsBackRows(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	c := testCache(t, WithStore(db))
	err = c.Transact(ctx, func(ctx context.Context) error {
		mkNote(t, c, RootID, "A", "A")
		return errors.New("abort")
	})
	require.Error(t, err)

	reloaded := testCache(t, WithStore(db))
	assert.Nil(t, reloaded.Note("A"))
	assert.Nil(t, c.Note("A"))
}

func TestExclusiveSerializes(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Exclusive(ctx, func(ctx context.Context) error {
				mu.Lock()
				active++
				peak = max(peak, active)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}

func TestExclusiveHonorsContext(t *testing.T) {
	c := testCache(t)
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.Exclusive(context.Background(), func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Exclusive(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

type stubResolver struct {
	results map[string][]string
	err     error
}

func (r stubResolver) ResolveSearchNote(ctx context.Context, note *Note) ([]*Note, error) {
	if r.err != nil {
		return nil, r.err
	}
	return note.cache.Notes(r.results[note.ID()]), nil
}

func TestSubtree(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	mkNote(t, c, RootID, "A", "A")
	mkNote(t, c, "A", "B", "B")
	arch := mkNote(t, c, "A", "ARCH", "Old")
	_, err := arch.AddLabel(ctx, "archived", "", false)
	require.NoError(t, err)
	mkNote(t, c, RootID, HiddenRootID, "hidden")
	_, err = c.CloneNote(ctx, "B", RootID, "")
	require.NoError(t, err)

	sub := c.Root().Subtree(ctx, SubtreeOptions{})
	assert.Equal(t, []string{"root", "A", "B"}, sub.NoteIDs())
	assert.Contains(t, sub.Relationships, Relationship{ParentNoteID: RootID, ChildNoteID: "B"})
	assert.Contains(t, sub.Relationships, Relationship{ParentNoteID: "A", ChildNoteID: "B"})

	all := c.Root().SubtreeNoteIDs(ctx, SubtreeOptions{IncludeArchived: true, IncludeHidden: true})
	assert.ElementsMatch(t, []string{"root", "A", "B", "ARCH", HiddenRootID}, all)
}

func TestSubtreeResolvesSearchNotes(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	mkNote(t, c, RootID, "T", "Target")
	_, _, err := c.CreateNote(ctx, NewNote{NoteID: "S", ParentNoteID: RootID, Title: "Saved", Type: TypeSearch})
	require.NoError(t, err)

	c.SetSearchResolver(stubResolver{results: map[string][]string{"S": {"T"}}})
	ids := c.Note("S").SubtreeNoteIDs(ctx, SubtreeOptions{ResolveSearch: true})
	assert.Equal(t, []string{"S", "T"}, ids)

	assert.Equal(t, []string{"S"}, c.Note("S").SubtreeNoteIDs(ctx, SubtreeOptions{}))

	c.SetSearchResolver(stubResolver{err: errors.New("bad query")})
	assert.Equal(t, []string{"S"}, c.Note("S").SubtreeNoteIDs(ctx, SubtreeOptions{ResolveSearch: true}))
}

func TestCannotCreateUnderSearchNote(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	_, _, err := c.CreateNote(ctx, NewNote{NoteID: "S", ParentNoteID: RootID, Title: "Saved", Type: TypeSearch})
	require.NoError(t, err)

	_, _, err = c.CreateNote(ctx, NewNote{ParentNoteID: "S", Title: "child"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBranchValidation(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	mkNote(t, c, RootID, "A", "A")
	mkNote(t, c, "A", "B", "B")

	tests := []struct {
		name           string
		noteID, parent string
		want           error
	}{
		{"cycle", "A", "B", ErrValidation},
		{"self", "A", "A", ErrValidation},
		{"root", RootID, "A", ErrValidation},
		{"duplicate", "B", "A", ErrValidation},
		{"missing parent", "B", "nope", ErrNotFound},
		{"missing child", "nope", "A", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CloneNote(ctx, tt.noteID, tt.parent, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, _, err := c.CreateNote(ctx, NewNote{NoteID: "A", ParentNoteID: RootID})
	assert.ErrorIs(t, err, ErrValidation, "duplicate note id")
}

func TestMoveBranch(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	mkNote(t, c, RootID, "A", "A")
	mkNote(t, c, RootID, "B", "B")
	_, _, err := c.CreateNote(ctx, NewNote{NoteID: "X", ParentNoteID: "A", Title: "X", Prefix: "pre"})
	require.NoError(t, err)

	moved, err := c.MoveBranch(ctx, BranchID("A", "X"), "B")
	require.NoError(t, err)
	assert.Equal(t, "B_X", moved.ID())
	assert.Equal(t, "pre", moved.Prefix())
	assert.Nil(t, c.Branch("A_X"))
	assert.Equal(t, [][]string{{"root", "B", "X"}}, c.Note("X").AllNotePaths())
	assert.False(t, c.Note("X").IsDeleted())
}
