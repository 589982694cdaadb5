package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index documents into a collection",
		Long: `Index one or more files into a collection.

Supported formats: plain text, markdown, CSV/TSV and source code
(Go, Python, JavaScript, TypeScript). Re-indexing a file whose
content is already indexed replaces the old version.

Examples:
  docdex index notes.txt
  docdex index docs/*.md --collection handbook
  docdex index main.go --json`,
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

			report, err := coord.IndexBatch(cmd.Context(), args)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			for _, r := range report.Indexed {
				verb := "indexed"
				if r.Replaced {
					verb = "replaced"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %d chunks)\n",
					verb, r.Filename, r.Format, r.Chunks)
			}
			for _, f := range report.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %s\n", f.Path, f.Error)
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d files failed", len(report.Failed),
					len(report.Indexed)+len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
