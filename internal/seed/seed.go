// Package seed imports note trees written as YAML. A document is a list of
// nodes, each with its attributes and children:
//
//	- id: recipes
//	  title: Recipes
//	  labels:
//	    - {name: course, value: dessert, inheritable: true}
//	  children:
//	    - title: Apple pie
//	      content: <p>Peel the apples.</p>
//	      relations:
//	        - {name: author, target: bob}
//	    - clone_of: favourite
//	      prefix: Best
//
// Relations are resolved after every node exists, so targets may appear
// later in the document. The whole import is one transaction.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lazypower/canopy/internal/graph"
	"gopkg.in/yaml.v3"
)

// Node is one note of a seed document.
type Node struct {
	ID        string     `yaml:"id"`
	Title     string     `yaml:"title"`
	Type      string     `yaml:"type"`
	Mime      string     `yaml:"mime"`
	Content   string     `yaml:"content"`
	Prefix    string     `yaml:"prefix"`
	Protected bool       `yaml:"protected"`
	Labels    []Label    `yaml:"labels"`
	Relations []Relation `yaml:"relations"`
	Children  []Node     `yaml:"children"`
	// CloneOf places an existing (or earlier seeded) note under this
	// node's parent instead of creating a new one.
	CloneOf string `yaml:"clone_of"`
}

type Label struct {
	Name        string `yaml:"name"`
	Value       string `yaml:"value"`
	Inheritable bool   `yaml:"inheritable"`
}

type Relation struct {
	Name        string `yaml:"name"`
	Target      string `yaml:"target"`
	Inheritable bool   `yaml:"inheritable"`
}

// Stats counts what an import created.
type Stats struct {
	Notes      int
	Clones     int
	Labels     int
	Relations  int
	TopNoteIDs []string
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) ([]Node, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var nodes []Node
	if err := dec.Decode(&nodes); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return nodes, nil
}

type pendingRelation struct {
	noteID string
	rel    Relation
}

type importer struct {
	cache     *graph.Cache
	ids       map[string]string // seed id -> note id
	relations []pendingRelation
	stats     Stats
}

// Import creates nodes under parentNoteID. Nothing is kept when any node
// fails.
func Import(ctx context.Context, cache *graph.Cache, parentNoteID string, nodes []Node) (Stats, error) {
	im := &importer{cache: cache, ids: make(map[string]string)}

	err := cache.Transact(ctx, func(ctx context.Context) error {
		for _, n := range nodes {
			id, err := im.create(ctx, parentNoteID, n)
			if err != nil {
				return err
			}
			im.stats.TopNoteIDs = append(im.stats.TopNoteIDs, id)
		}
		for _, p := range im.relations {
			if err := im.relate(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return im.stats, nil
}

// ImportFile parses path and imports it under parentNoteID.
func ImportFile(ctx context.Context, cache *graph.Cache, parentNoteID, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	nodes, err := Parse(f)
	if err != nil {
		return Stats{}, err
	}
	return Import(ctx, cache, parentNoteID, nodes)
}

func (im *importer) create(ctx context.Context, parentNoteID string, n Node) (string, error) {
	if n.CloneOf != "" {
		target := im.resolve(n.CloneOf)
		if _, err := im.cache.CloneNote(ctx, target, parentNoteID, n.Prefix); err != nil {
			return "", fmt.Errorf("clone %s under %s: %w", n.CloneOf, parentNoteID, err)
		}
		im.stats.Clones++
		return target, nil
	}

	note, _, err := im.cache.CreateNote(ctx, graph.NewNote{
		NoteID:       n.ID,
		ParentNoteID: parentNoteID,
		Title:        n.Title,
		Type:         graph.NoteType(n.Type),
		Mime:         n.Mime,
		Content:      []byte(n.Content),
		IsProtected:  n.Protected,
		Prefix:       n.Prefix,
	})
	if err != nil {
		return "", fmt.Errorf("create %q: %w", n.Title, err)
	}
	im.stats.Notes++
	if n.ID != "" {
		im.ids[n.ID] = note.ID()
	}

	for _, l := range n.Labels {
		if _, err := note.AddLabel(ctx, l.Name, l.Value, l.Inheritable); err != nil {
			return "", fmt.Errorf("label %s on %q: %w", l.Name, n.Title, err)
		}
		im.stats.Labels++
	}
	for _, r := range n.Relations {
		im.relations = append(im.relations, pendingRelation{noteID: note.ID(), rel: r})
	}

	for _, child := range n.Children {
		if _, err := im.create(ctx, note.ID(), child); err != nil {
			return "", err
		}
	}
	return note.ID(), nil
}

func (im *importer) relate(ctx context.Context, p pendingRelation) error {
	note, err := im.cache.GetNote(p.noteID)
	if err != nil {
		return err
	}
	target := im.resolve(p.rel.Target)
	if _, err := note.AddRelation(ctx, p.rel.Name, target, p.rel.Inheritable); err != nil {
		return fmt.Errorf("relation %s from %s to %s: %w", p.rel.Name, p.noteID, p.rel.Target, err)
	}
	im.stats.Relations++
	return nil
}

// resolve maps a seed id to the note created for it; ids not seeded in
// this document refer to existing notes.
func (im *importer) resolve(id string) string {
	if mapped, ok := im.ids[id]; ok {
		return mapped
	}
	return id
}
