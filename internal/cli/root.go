// Package cli provides the command-line interface for dicomcat.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eargollo/dicomcat/internal/catalog"
	"github.com/eargollo/dicomcat/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// app carries what the persistent pre-run loads for every subcommand.
type app struct {
	configPath string
	logLevel   string
	dbPath     string

	cfg        *config.Config
	closeLog   func() error
	openedLogs bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dicomcat",
		Short: "Crawl DICOM trees into a resumable SQLite catalog",
		Long: `dicomcat walks directory trees of DICOM files, reads a fixed set of header
fields from each file and records them in a SQLite catalog. Re-running a crawl
only reads files the catalog has not seen, so an interrupted crawl resumes
where it stopped.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "catalog database path (overrides db_path)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(newCrawlCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newStudiesCmd(a))
	root.AddCommand(newErrorsCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	a.cfg = cfg

	logger, closeLog := config.SetupLogger(cfg.LogFile, config.ParseLogLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	a.closeLog = closeLog
	a.openedLogs = true
	return nil
}

func (a *app) close() error {
	if !a.openedLogs {
		return nil
	}
	a.openedLogs = false
	return a.closeLog()
}

// openStore opens the catalog with a pool large enough for one session per
// worker plus the read paths.
func (a *app) openStore(ctx context.Context) (*catalog.Store, error) {
	st := a.cfg.Store
	store, err := catalog.Open(ctx, a.cfg.DBPath, catalog.Options{
		MaxConns:      a.cfg.Workers + 2,
		BusyTimeoutMs: st.BusyTimeoutMs,
		Retry: catalog.RetryPolicy{
			MaxRetries:     st.MaxRetries,
			InitialBackoff: st.InitialBackoff,
			MaxBackoff:     st.MaxBackoff,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", a.cfg.DBPath, err)
	}
	return store, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dicomcat %s\n", Version)
		},
	}
}
