package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eargollo/dicomcat/internal/api"
	"github.com/eargollo/dicomcat/internal/crawl"
	"github.com/eargollo/dicomcat/internal/header"
	"github.com/eargollo/dicomcat/internal/scheduler"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the crawl schedule",
		Long: `Serve the status, crawl control, error audit, study and metrics endpoints.
When schedule is set in the config a crawl is started on that cron
expression; a firing that finds a crawl still running is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid crawl config: %w", err)
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_addr)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	slog.Info("dicomcat starting",
		"version", Version,
		"http_addr", a.cfg.HTTPAddr,
		"db_path", a.cfg.DBPath,
		"roots", a.cfg.Roots,
		"workers", a.cfg.Workers)

	mgr := crawl.NewManager(crawl.New(store, header.NewDICOMReader(), crawl.Options{
		Roots:            a.cfg.Roots,
		TrialArm:         a.cfg.TrialArm,
		ExcludeFragments: a.cfg.ExcludeFragments,
		Workers:          a.cfg.Workers,
	}))

	var sched *scheduler.Scheduler
	if a.cfg.Schedule != "" {
		sched = scheduler.New()
		if err := sched.ScheduleCrawl(ctx, a.cfg.Schedule, mgr); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := api.New(a.cfg.HTTPAddr, api.Deps{
		Store:    store,
		Manager:  mgr,
		Sched:    sched,
		Version:  Version,
		CrawlCtx: ctx,
	})
	runErr := srv.Run(ctx)

	// Let a running crawl observe the cancellation before the store closes.
	if _, err := mgr.Cancel(); err != nil && !errors.Is(err, crawl.ErrNoActiveCrawl) {
		slog.Warn("cancel crawl", "error", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Wait(waitCtx); err != nil {
		slog.Warn("crawl did not stop in time", "error", err)
	}
	slog.Info("dicomcat stopped")
	return runErr
}
