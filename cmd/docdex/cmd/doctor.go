package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/index"
	"github.com/quillstack/docdex/internal/ui"
)

func newDoctorCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose index/metadata consistency",
		Long: `Diagnose a collection without touching it.

Reports whether the vector index, the chunk metadata and the
embedding matrix agree, and recommends a repair when they do not.
Diagnosis never repairs anything on its own.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			id := collectionID
			if id == "" {
				id = index.DefaultCollection
			}
			dir := cfg.CollectionDir(id)
			if _, err := os.Stat(dir); err != nil {
				return dexerrors.NotFound(dexerrors.ErrCodeCollectionNotFound, "collection", id)
			}

			diag, err := index.NewDoctor(dir).Diagnose(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(diag)
			}
			ui.NewRenderer(cmd.OutOrStdout()).Diagnosis(id, diag)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair index/metadata drift",
		Long: `Repair a collection diagnosed as inconsistent.

Each subcommand applies one repair strategy; run doctor first to see
which one the collection needs.`,
	}
	cmd.AddCommand(newRepairRebuildCmd())
	cmd.AddCommand(newRepairTruncateCmd())
	cmd.AddCommand(newRepairDocumentsCmd())
	return cmd
}

func newRepairRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed all chunks and rebuild the index from metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			doctor, err := mgr.Doctor(collectionID)
			if err != nil {
				return err
			}

			report, err := doctor.RebuildFromMetadata(cmd.Context(), mgr.Embedder())
			if report != nil {
				printRepairReport(cmd, report)
			}
			return err
		},
	}
}

func newRepairTruncateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "truncate",
		Short: "Drop trailing vectors so the index matches metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			doctor, err := mgr.Doctor(collectionID)
			if err != nil {
				return err
			}
			report, err := doctor.TruncateToMetadata(cmd.Context())
			if err != nil {
				return err
			}
			printRepairReport(cmd, report)
			return nil
		},
	}
}

func newRepairDocumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "Reconstruct missing document records from chunks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			doctor, err := mgr.Doctor(collectionID)
			if err != nil {
				return err
			}
			report, err := doctor.RepairDocumentsTable(cmd.Context())
			if err != nil {
				return err
			}
			printRepairReport(cmd, report)
			return nil
		},
	}
}

func printRepairReport(cmd *cobra.Command, report *index.RepairReport) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d processed, %d failed\n",
		report.Action, report.Processed, report.Failed)
	for _, e := range report.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e)
	}
}
