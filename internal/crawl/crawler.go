// Package crawl inventories a directory tree into the catalog: walk, decide
// per directory what is left to do, then scan the remainder with a fixed
// pool of workers.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/eargollo/dicomcat/internal/catalog"
	"github.com/eargollo/dicomcat/internal/header"
	"github.com/eargollo/dicomcat/internal/metrics"
)

// Options configures a crawl.
type Options struct {
	Roots            []string
	TrialArm         string
	ExcludeFragments []string
	// Workers is the scanner pool size.
	Workers int
	// Walkers is the number of enumeration goroutines; defaults to Workers.
	Walkers int
}

// Summary is the outcome of one run.
type Summary struct {
	Catalogued   int64         `json:"catalogued"`
	Errored      int64         `json:"errored"`
	Duplicates   int64         `json:"duplicates"`
	Fallbacks    int64         `json:"fallbacks"`
	DirsSkipped  int64         `json:"dirs_skipped"`
	DirsFull     int64         `json:"dirs_full"`
	DirsPartial  int64         `json:"dirs_partial"`
	DirsExcluded int64         `json:"dirs_excluded"`
	WalkErrors   int64         `json:"walk_errors"`
	Duration     time.Duration `json:"duration"`
}

func summarize(p *Progress, d time.Duration) Summary {
	return Summary{
		Catalogued:   p.FilesCatalogued.Load(),
		Errored:      p.FilesErrored.Load(),
		Duplicates:   p.FilesDuplicate.Load(),
		Fallbacks:    p.Fallbacks.Load(),
		DirsSkipped:  p.DirsSkipped.Load(),
		DirsFull:     p.DirsFull.Load(),
		DirsPartial:  p.DirsPartial.Load(),
		DirsExcluded: p.DirsExcluded.Load(),
		WalkErrors:   p.WalkErrors.Load(),
		Duration:     d,
	}
}

// Crawler runs the crawl pipeline against one store.
type Crawler struct {
	store  *catalog.Store
	reader header.Reader
	opts   Options
}

// New creates a Crawler.
func New(store *catalog.Store, reader header.Reader, opts Options) *Crawler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Walkers < 1 {
		opts.Walkers = opts.Workers
	}
	return &Crawler{store: store, reader: reader, opts: opts}
}

// Run performs one crawl. It returns a non-nil error only for store
// failures or cancellation; unreadable files are part of the summary.
func (c *Crawler) Run(ctx context.Context, progress *Progress) (Summary, error) {
	if progress == nil {
		progress = &Progress{}
	}
	start := time.Now()
	metrics.CrawlIsRunning.Set(1)
	defer metrics.CrawlIsRunning.Set(0)

	err := c.run(ctx, progress)

	sum := summarize(progress, time.Since(start))
	status := "completed"
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	case err != nil:
		status = "failed"
	}
	metrics.CrawlRunsTotal.WithLabelValues(status).Inc()
	metrics.CrawlDuration.Observe(sum.Duration.Seconds())

	slog.Info("crawl finished", "status", status,
		"catalogued", sum.Catalogued, "errored", sum.Errored,
		"dirs_skipped", sum.DirsSkipped, "dirs_full", sum.DirsFull,
		"dirs_partial", sum.DirsPartial, "duration", sum.Duration.Round(time.Millisecond))
	return sum, err
}

func (c *Crawler) run(ctx context.Context, progress *Progress) error {
	roots := make([]string, 0, len(c.opts.Roots))
	for _, r := range c.opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("resolve root %q: %w", r, err)
		}
		roots = append(roots, filepath.Clean(abs))
	}
	roots, dropped := collapseRoots(roots)
	if len(dropped) > 0 {
		slog.Info("crawl: ignoring roots covered by another root", "roots", dropped)
	}

	// Snapshot before anything writes.
	counts, err := c.store.DirectoryCounts(ctx)
	if err != nil {
		return fmt.Errorf("snapshot directory counts: %w", err)
	}
	slog.Info("crawl started", "roots", roots, "trial_arm", c.opts.TrialArm,
		"known_dirs", len(counts), "workers", c.opts.Workers)

	walkCtx, cancelWalk := context.WithCancel(ctx)
	defer cancelWalk()

	dirs := make(chan Dir, 1000)
	report := func(path, stage, errMsg string) {
		progress.WalkErrors.Add(1)
		slog.Warn("crawl: traversal error", "path", path, "stage", stage, "error", errMsg)
	}
	go Walk(walkCtx, roots, NewExcluder(c.opts.ExcludeFragments), c.opts.Walkers, dirs, progress, report)

	class, err := Classify(ctx, dirs, counts, c.store, progress)
	if err != nil {
		cancelWalk()
		for range dirs {
		}
		return err
	}
	metrics.DirectoriesExcluded.Add(float64(progress.DirsExcluded.Load()))

	slog.Info("classification done", "tasks", len(class.Tasks),
		"skip", class.Skipped, "full", class.Full, "partial", class.Partial,
		"missing_files", class.Missing, "excluded", progress.DirsExcluded.Load())

	progress.TasksTotal.Store(int64(len(class.Tasks)))
	scanner := NewScanner(c.store, c.reader, c.opts.TrialArm, progress)
	return Distribute(ctx, class.Tasks, c.opts.Workers, scanner.ScanTask)
}

// collapseRoots removes duplicates and roots nested under another root, so
// each directory is walked once. Input paths must be absolute and clean.
func collapseRoots(roots []string) (kept, dropped []string) {
	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)
next:
	for _, r := range sorted {
		// Parents sort before their children.
		for _, k := range kept {
			if within(k, r) {
				dropped = append(dropped, r)
				continue next
			}
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

// within reports whether path is parent or lies beneath it.
func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
