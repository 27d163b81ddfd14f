package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/spf13/cobra"
)

var (
	treeArchived bool
	treeHidden   bool
	pathsHoisted string
)

var treeCmd = &cobra.Command{
	Use:   "tree [noteID]",
	Short: "Print the note tree",
	Long:  "Print the tree below a note (root by default). Clones are shown under every parent; a repeated subtree is printed once.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTree,
}

var pathsCmd = &cobra.Command{
	Use:   "paths <noteID>",
	Short: "List every path from root to a note, best first",
	Args:  cobra.ExactArgs(1),
	RunE:  runPaths,
}

func init() {
	treeCmd.Flags().BoolVar(&treeArchived, "archived", false, "Include archived notes")
	treeCmd.Flags().BoolVar(&treeHidden, "hidden", false, "Include the hidden subtree")
	pathsCmd.Flags().StringVar(&pathsHoisted, "hoisted", "", "Prefer paths through this note")
}

func runTree(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	noteID := graph.RootID
	if len(args) > 0 {
		noteID = args[0]
	}
	note, err := a.cache.GetNote(noteID)
	if err != nil {
		return fmt.Errorf("note %s: %w", noteID, err)
	}

	printTree(cmd.OutOrStdout(), note, "", "", make(map[string]bool))
	return nil
}

// printTree writes note and its children as an indented tree.
func printTree(w io.Writer, note *graph.Note, prefix, indent string, printed map[string]bool) {
	title := note.Title()
	if prefix != "" {
		title = prefix + " - " + title
	}

	var marks []string
	if note.IsArchived() {
		marks = append(marks, "archived")
	}
	if len(note.ParentBranches()) > 1 {
		marks = append(marks, "cloned")
	}
	suffix := ""
	if len(marks) > 0 {
		suffix = " (" + strings.Join(marks, ", ") + ")"
	}
	fmt.Fprintf(w, "%s%s [%s]%s\n", indent, title, note.ID(), suffix)

	if printed[note.ID()] {
		if note.HasChildren() {
			fmt.Fprintf(w, "%s  ...\n", indent)
		}
		return
	}
	printed[note.ID()] = true

	for _, b := range note.ChildBranches() {
		child := b.ChildNote()
		if child == nil {
			continue
		}
		if child.ID() == graph.HiddenRootID && !treeHidden {
			continue
		}
		if child.IsArchived() && !treeArchived {
			continue
		}
		printTree(w, child, b.Prefix(), indent+"  ", printed)
	}
}

func runPaths(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	note, err := a.cache.GetNote(args[0])
	if err != nil {
		return fmt.Errorf("note %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	paths := note.SortedNotePaths(pathsHoisted)
	if len(paths) == 0 {
		fmt.Fprintf(out, "%s has no path to root\n", note.ID())
		return nil
	}
	for i, p := range paths {
		var marks []string
		if i == 0 {
			marks = append(marks, "best")
		}
		if p.IsArchived {
			marks = append(marks, "archived")
		}
		if p.IsHidden {
			marks = append(marks, "hidden")
		}
		if pathsHoisted != "" && !p.IsInHoistedTree {
			marks = append(marks, "outside hoisted")
		}
		suffix := ""
		if len(marks) > 0 {
			suffix = " (" + strings.Join(marks, ", ") + ")"
		}
		fmt.Fprintf(out, "%s%s\n   %s\n", a.cache.PathTitle(p.NoteIDs), suffix, strings.Join(p.NoteIDs, "/"))
	}
	return nil
}
