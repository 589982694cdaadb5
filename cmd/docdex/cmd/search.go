package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillstack/docdex/internal/index"
	"github.com/quillstack/docdex/internal/ui"
)

func newSearchCmd() *cobra.Command {
	var (
		topK       int
		jsonOut    bool
		rerank     bool
		synthesize bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a collection by meaning",
		Long: `Search the collection's vector index and print the best-matching
chunks with their source locations.

With AI enabled in the config, --rerank asks a model to reorder the
candidates by judged relevance and --answer synthesizes a cited
answer from the top hits. Both degrade silently to plain vector
ranking when the model is unreachable.

Examples:
  docdex search "error handling strategy"
  docdex search "connection pool tuning" -n 5 --rerank
  docdex search "release checklist" --answer`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			coord, err := mgr.Collection(collectionID)
			if err != nil {
				return err
			}

			result, err := coord.Search(cmd.Context(), query, index.SearchOptions{
				TopK:       topK,
				Rerank:     rerank,
				Synthesize: synthesize,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			ui.NewRenderer(cmd.OutOrStdout()).SearchResult(result)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "limit", "n", 0, "Maximum number of results (0 = config default)")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rerank results with the configured AI model")
	cmd.Flags().BoolVar(&synthesize, "answer", false, "Synthesize a cited answer from the top hits")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
