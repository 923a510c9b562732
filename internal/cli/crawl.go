package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eargollo/dicomcat/internal/crawl"
	"github.com/eargollo/dicomcat/internal/header"
)

type crawlFlags struct {
	roots    []string
	trialArm string
	workers  int
	excludes []string
	progress time.Duration
}

func newCrawlCmd(a *app) *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Catalog every DICOM file under the configured roots",
		Long: `Walk the roots, skip directories the catalog already fully accounts for and
read headers only for files it has not recorded. Unreadable files are stored in
the errors table. Interrupting a crawl is safe: the next crawl picks up the
remaining files.

Examples:
  dicomcat crawl --root /mnt/data/AJ --trial-arm AJ
  dicomcat crawl -c config.yaml --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, a)
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid crawl config: %w", err)
			}
			return runCrawl(cmd.Context(), cmd.OutOrStdout(), a, f.progress)
		},
	}
	cmd.Flags().StringSliceVarP(&f.roots, "root", "r", nil, "root directory to crawl (repeatable; overrides roots)")
	cmd.Flags().StringVarP(&f.trialArm, "trial-arm", "t", "", "trial arm tag stored on every record")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "number of scanner workers")
	cmd.Flags().StringSliceVar(&f.excludes, "exclude", nil, "path fragment to exclude (repeatable; overrides exclude_fragments)")
	cmd.Flags().DurationVar(&f.progress, "progress", 30*time.Second, "progress log interval (0 disables)")
	return cmd
}

// apply copies flags the user set over the loaded config.
func (f *crawlFlags) apply(cmd *cobra.Command, a *app) {
	if cmd.Flags().Changed("root") {
		a.cfg.Roots = f.roots
	}
	if cmd.Flags().Changed("trial-arm") {
		a.cfg.TrialArm = f.trialArm
	}
	if cmd.Flags().Changed("workers") {
		a.cfg.Workers = f.workers
	}
	if cmd.Flags().Changed("exclude") {
		a.cfg.ExcludeFragments = f.excludes
	}
}

func runCrawl(ctx context.Context, out io.Writer, a *app, every time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	c := crawl.New(store, header.NewDICOMReader(), crawl.Options{
		Roots:            a.cfg.Roots,
		TrialArm:         a.cfg.TrialArm,
		ExcludeFragments: a.cfg.ExcludeFragments,
		Workers:          a.cfg.Workers,
	})

	progress := &crawl.Progress{}
	if every > 0 {
		done := make(chan struct{})
		defer close(done)
		go logProgress(progress, every, done)
	}

	sum, runErr := c.Run(ctx, progress)
	printSummary(out, sum)
	if runErr != nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	return nil
}

func logProgress(p *crawl.Progress, every time.Duration, done <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			slog.Info("crawl progress",
				"dirs", humanize.Comma(p.DirsDiscovered.Load()),
				"tasks", fmt.Sprintf("%s/%s", humanize.Comma(p.TasksDone.Load()), humanize.Comma(p.TasksTotal.Load())),
				"catalogued", humanize.Comma(p.FilesCatalogued.Load()),
				"errored", humanize.Comma(p.FilesErrored.Load()))
		}
	}
}

func printSummary(w io.Writer, s crawl.Summary) {
	fmt.Fprintf(w, "catalogued:   %s\n", humanize.Comma(s.Catalogued))
	fmt.Fprintf(w, "errored:      %s\n", humanize.Comma(s.Errored))
	fmt.Fprintf(w, "fallbacks:    %s\n", humanize.Comma(s.Fallbacks))
	fmt.Fprintf(w, "directories:  %s full, %s partial, %s skipped, %s excluded\n",
		humanize.Comma(s.DirsFull), humanize.Comma(s.DirsPartial),
		humanize.Comma(s.DirsSkipped), humanize.Comma(s.DirsExcluded))
	if s.WalkErrors > 0 {
		fmt.Fprintf(w, "walk errors:  %s\n", humanize.Comma(s.WalkErrors))
	}
	fmt.Fprintf(w, "duration:     %s\n", s.Duration.Round(time.Millisecond))
}
