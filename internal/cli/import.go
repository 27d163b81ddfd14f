package cli

import (
	"fmt"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/seed"
	"github.com/spf13/cobra"
)

var importParent string

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a YAML note tree",
	Long:  "Create the notes, labels, relations and clones described by a YAML seed document. Nothing is imported when any entry fails.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&importParent, "parent", graph.RootID, "Note to import under")
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := seed.ImportFile(cmd.Context(), a.cache, importParent, args[0])
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d notes, %d clones, %d labels, %d relations under %s\n",
		stats.Notes, stats.Clones, stats.Labels, stats.Relations, importParent)
	return nil
}
