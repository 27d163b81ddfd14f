package seed

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recipes = `
- id: recipes
  title: Recipes
  labels:
    - {name: cookbook, inheritable: true}
  children:
    - id: pie
      title: Apple pie
      content: <p>Peel the apples.</p>
      labels:
        - {name: course, value: dessert}
      relations:
        - {name: author, target: bob}
    - id: soup
      title: Leek soup
      type: code
      mime: text/markdown
      content: "# Leek soup"
- id: people
  title: People
  children:
    - id: bob
      title: Bob
    - clone_of: pie
      prefix: Favourite
`

func newCache(t *testing.T) *graph.Cache {
	t.Helper()
	c := graph.New(graph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, c.Load(context.Background()))
	return c
}

func TestImport(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	nodes, err := Parse(strings.NewReader(recipes))
	require.NoError(t, err)

	stats, err := Import(ctx, c, graph.RootID, nodes)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Notes)
	assert.Equal(t, 1, stats.Clones)
	assert.Equal(t, 2, stats.Labels)
	assert.Equal(t, 1, stats.Relations)
	assert.Equal(t, []string{"recipes", "people"}, stats.TopNoteIDs)

	pie := c.Note("pie")
	require.NotNil(t, pie)
	assert.Equal(t, "dessert", pie.LabelValue("course"))
	assert.True(t, pie.HasLabel("cookbook"), "inheritable label reaches children")
	assert.Equal(t, "bob", pie.RelationTarget("author").ID())
	assert.Len(t, pie.AllNotePaths(), 2)
	assert.Equal(t, "Favourite", c.BranchFromChildAndParent("pie", "people").Prefix())

	content, err := pie.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<p>Peel the apples.</p>", string(content))

	soup := c.Note("soup")
	require.NotNil(t, soup)
	assert.Equal(t, graph.TypeCode, soup.Type())
	assert.Equal(t, "text/markdown", soup.Mime())
}

func TestImportRollsBackOnError(t *testing.T) {
	c := newCache(t)
	nodes, err := Parse(strings.NewReader(`
- id: lonely
  title: Lonely
  relations:
    - {name: friend, target: nobody}
`))
	require.NoError(t, err)

	_, err = Import(context.Background(), c, graph.RootID, nodes)
	require.Error(t, err)
	assert.Nil(t, c.Note("lonely"))
	assert.Empty(t, c.Root().ChildNotes())
}

func TestImportUnknownParent(t *testing.T) {
	c := newCache(t)
	_, err := Import(context.Background(), c, "missing", []Node{{Title: "x"}})
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("- title: x\n  colour: red\n"))
	assert.ErrorContains(t, err, "colour")
}

func TestParseEmptyDocument(t *testing.T) {
	nodes, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestImportFile(t *testing.T) {
	c := newCache(t)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(recipes), 0o644))

	stats, err := ImportFile(context.Background(), c, graph.RootID, path)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Notes)

	_, err = ImportFile(context.Background(), c, graph.RootID, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
