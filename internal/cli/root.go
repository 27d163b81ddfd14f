package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Note graph cache and search engine",
	Long:  "Canopy keeps a note hierarchy with labels, relations and clones in memory and answers structured search queries over it.",

	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./canopy.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides database.path)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(importCmd)
}
