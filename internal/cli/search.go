package cli

import (
	"fmt"
	"strings"

	"github.com/lazypower/canopy/internal/search"
	"github.com/spf13/cobra"
)

var (
	searchLimit    int
	searchAncestor string
	searchDepth    string
	searchArchived bool
	searchHidden   bool
	searchFast     bool
	searchOrderBy  string
	searchDesc     bool
	searchDebug    bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search notes",
	Long: `Search notes with the query language: full-text words, #label and ~relation
conditions, note.* properties, and/or/not with parentheses, orderBy and limit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (default search.default_limit)")
	searchCmd.Flags().StringVar(&searchAncestor, "ancestor", "", "Only search below this note")
	searchCmd.Flags().StringVar(&searchDepth, "depth", "", "Ancestor depth condition: eq1, gt2, lt3")
	searchCmd.Flags().BoolVar(&searchArchived, "archived", false, "Include archived notes")
	searchCmd.Flags().BoolVar(&searchHidden, "hidden", false, "Include notes in the hidden subtree")
	searchCmd.Flags().BoolVar(&searchFast, "fast", false, "Skip note content")
	searchCmd.Flags().StringVar(&searchOrderBy, "order-by", "", "Sort by a note property instead of relevance")
	searchCmd.Flags().BoolVar(&searchDesc, "desc", false, "Sort descending (with --order-by)")
	searchCmd.Flags().BoolVar(&searchDebug, "debug", false, "Print how the query was parsed")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	opts := search.Options{
		FastSearch:           searchFast,
		AncestorNoteID:       searchAncestor,
		AncestorDepth:        searchDepth,
		IncludeArchived:      searchArchived,
		IncludeHidden:        searchHidden,
		OrderBy:              searchOrderBy,
		Limit:                a.cfg.Search.DefaultLimit,
		FuzzyAttributeSearch: a.cfg.Search.FuzzyAttributes,
		Debug:                searchDebug,
	}
	if cmd.Flags().Changed("limit") {
		opts.Limit = searchLimit
	}
	if searchDesc {
		opts.OrderDirection = "desc"
	}

	res := a.search.Find(cmd.Context(), query, opts)

	out := cmd.OutOrStdout()
	if res.Debug != nil {
		fmt.Fprintf(out, "fulltext:   %s\n", strings.Join(res.Debug.FulltextTokens, " "))
		fmt.Fprintf(out, "tokens:     %s\n", res.Debug.ExpressionTokens)
		fmt.Fprintf(out, "expression: %s\n\n", res.Debug.Expression)
	}
	if res.Error != "" {
		return fmt.Errorf("query: %s", res.Error)
	}

	if len(res.Items) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, it := range res.Items {
		fmt.Fprintf(out, "%d. [%.1f] %s\n", i+1, it.Score, it.NotePathTitle)
		fmt.Fprintf(out, "   %s\n", strings.Join(it.NotePath, "/"))
	}
	return nil
}
