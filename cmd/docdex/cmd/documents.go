package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillstack/docdex/internal/index"
	"github.com/quillstack/docdex/internal/ui"
)

func newDocumentsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs", "ls"},
		Short:   "List indexed documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			coord, err := mgr.Collection(collectionID)
			if err != nil {
				return err
			}

			docs, err := coord.Engine().Metadata().ListDocuments(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}
			ui.NewRenderer(cmd.OutOrStdout()).Documents(docs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Delete documents and rebuild the index without them",
		Long: `Delete documents by their content hash id.

The vector index is rebuilt without the freed vectors; when the
embedding matrix is unavailable the deletion degrades to
metadata-only and the stale vectors stay until a repair rebuild.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			coord, err := mgr.Collection(collectionID)
			if err != nil {
				return err
			}

			for _, id := range args {
				res, err := coord.Engine().DeleteDocument(cmd.Context(), id)
				if err != nil {
					return err
				}
				switch {
				case res.ChunksDeleted == 0:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", id)
				case res.Degraded:
					fmt.Fprintf(cmd.OutOrStdout(),
						"%s: deleted %d chunks (degraded: stale vectors remain, run repair rebuild)\n",
						id, res.ChunksDeleted)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted %d chunks\n", id, res.ChunksDeleted)
				}
			}
			return nil
		},
	}
	return cmd
}

func newStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show collection counts and health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			id := collectionID
			if id == "" {
				id = index.DefaultCollection
			}
			stats, err := mgr.Stats(cmd.Context(), id)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			ui.NewRenderer(cmd.OutOrStdout()).Stats(id, stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
