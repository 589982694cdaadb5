package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillstack/docdex/internal/backup"
)

func newBackupCmd() *cobra.Command {
	var (
		description  string
		withDocs     bool
		jsonOut      bool
		deleteTarget string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create or manage collection backups",
		Long: `Create a zip backup of a collection's index files, optionally
including its source documents.

Without flags, creates a backup of the selected collection. Use
--list to show existing backups or --delete to remove one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc := backup.NewService(cfg)

			if deleteTarget != "" {
				if err := svc.Delete(deleteTarget); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", deleteTarget)
				return nil
			}

			if listFlag, _ := cmd.Flags().GetBool("list"); listFlag {
				backups, err := svc.List()
				if err != nil {
					return err
				}
				if jsonOut {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(backups)
				}
				if len(backups) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no backups")
					return nil
				}
				for _, b := range backups {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %.1f KB  %s\n",
						b.Filename, b.Manifest.CollectionID,
						float64(b.SizeBytes)/1024, b.Manifest.Description)
				}
				return nil
			}

			path, err := svc.Create(collectionID, description, withDocs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup created: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Backup description")
	cmd.Flags().BoolVar(&withDocs, "documents", true, "Include source documents")
	cmd.Flags().Bool("list", false, "List existing backups")
	cmd.Flags().StringVar(&deleteTarget, "delete", "", "Delete a backup by filename")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var (
		target    string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "restore <backup.zip>",
		Short: "Restore a collection from a backup",
		Long: `Restore a backup archive into a collection.

The target defaults to the collection the backup was taken from.
Restoring over a collection that already has data requires
--overwrite.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			report, err := backup.NewService(cfg).Restore(args[0], target, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"restored collection %s (%d index files, %d documents)\n",
				report.CollectionID, report.IndexFiles, report.DocumentFiles)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Collection id to restore into")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing collection data")
	return cmd
}
