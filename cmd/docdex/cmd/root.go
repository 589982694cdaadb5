// Package cmd provides the CLI commands for docdex.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quillstack/docdex/internal/ai"
	"github.com/quillstack/docdex/internal/config"
	"github.com/quillstack/docdex/internal/embed"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/index"
	"github.com/quillstack/docdex/internal/logging"
	"github.com/quillstack/docdex/pkg/version"
)

var (
	configPath     string
	collectionID   string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docdex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docdex",
		Short: "Local document indexing and semantic search",
		Long: `Docdex indexes documents and code into per-collection vector
indexes and searches them by meaning instead of keywords.

Indexing extracts text, chunks it, embeds each chunk and keeps the
vector index and chunk metadata strictly aligned; the doctor command
diagnoses and repairs any drift between the two.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("docdex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVarP(&collectionID, "collection", "c", "", "Collection to operate on")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDocumentsCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newRepairCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		printError(err)
		return err
	}
	return nil
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
	}
	_, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging must never block the actual command.
		slog.Warn("log_setup_failed", "error", err)
		return nil
	}
	loggingCleanup = cleanup
	return nil
}

// loadConfig loads the effective configuration for this invocation.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// openManager builds the collection manager with the configured
// embedder and optional AI service. The caller must Close it.
func openManager() (*index.Manager, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}

	var aiService *ai.Service
	if cfg.AI.Enabled {
		aiService, err = ai.NewService(cfg.AI)
		if err != nil {
			// AI is an enhancement; run without it.
			slog.Warn("ai_disabled", "error", err)
		}
	}

	mgr, err := index.NewManager(cfg, embedder, aiService)
	if err != nil {
		_ = embedder.Close()
		return nil, nil, err
	}
	return mgr, cfg, nil
}

// printError renders an error with its suggestion when present.
func printError(err error) {
	var dexErr *dexerrors.DexError
	if errors.As(err, &dexErr) {
		fmt.Fprintf(os.Stderr, "error: %s\n", dexErr.Message)
		if dexErr.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", dexErr.Suggestion)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
