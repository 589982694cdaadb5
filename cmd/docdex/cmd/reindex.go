package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillstack/docdex/internal/ui"
)

func newReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild a collection from its source documents",
		Long: `Clear a collection and re-ingest every supported file under its
documents directory with the current configuration.

Only one reindex job may run at a time; a second attempt reports the
active job's id. Interrupting the command (Ctrl-C) marks the job
cancelled and leaves a partially rebuilt collection that doctor can
diagnose.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, cfg, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			reindexer, err := mgr.Reindexer(collectionID)
			if err != nil {
				return err
			}

			job, err := reindexer.Start(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started reindex job %s\n", job.ID)

			final, err := reindexer.Run(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindex %s: %d/%d documents\n",
				final.Status, final.Processed, final.Total)
			if final.Error != "" {
				return fmt.Errorf("reindex failed: %s", final.Error)
			}
			return nil
		},
	}
	return cmd
}

func newJobsCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			jobs, err := mgr.Jobs().List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs recorded")
				return nil
			}
			r := ui.NewRenderer(cmd.OutOrStdout())
			for _, job := range jobs {
				r.Job(job)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
