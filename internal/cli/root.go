// ABOUTME: Root cobra command for vouch-admin and the setup every subcommand shares
// ABOUTME: Resolves configuration, builds the logger, and opens the store on demand

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/vouch-ledger/internal/config"
	"github.com/2389/vouch-ledger/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	Verbose    bool
	Format     string // "json" | "text"

	// Populated by the root command before any subcommand runs.
	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the vouch-admin CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vouch-admin",
		Short: "Administer a vouch-ledger database",
		Long: `Administer a vouch-ledger database: upgrade legacy files, inspect
namespaces, merge namespaces or sellers, and move vouches between files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			cfg, err := config.Resolve(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if opts.DBPath != "" {
				cfg.Database.Path = opts.DBPath
			}
			if opts.Verbose {
				cfg.Logging.Level = "debug"
			}
			opts.cfg = cfg
			opts.logger = setupLogger(cfg.Logging, cmd.ErrOrStderr())
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $VOUCH_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "database file (overrides config and $VOUCH_DB_PATH)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))

	return cmd
}

// openStore opens the configured database. The caller closes it.
func (o *RootOptions) openStore() (*store.SQLiteStore, error) {
	s, err := store.OpenSQLiteStore(o.cfg.Database.Path, store.Options{
		Logger:          o.logger,
		BusyTimeout:     o.cfg.Database.BusyTimeout,
		LegacyNamespace: o.cfg.Database.LegacyNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", o.cfg.Database.Path, err)
	}
	return s, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
