package crawl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eargollo/dicomcat/internal/metrics"
)

// Kind says how a Task names its files.
type Kind int

const (
	// KindFull covers every file in the directory, listed at scan time.
	KindFull Kind = iota
	// KindPartial covers only the files the catalog has no row for.
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindPartial:
		return "partial"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Task is one unit of scanner work. It lives only for the current run.
type Task struct {
	Dir   string
	Kind  Kind
	Files []string // set for KindPartial
}

// PathLister answers which files under a directory already have rows.
type PathLister interface {
	RecordedPaths(ctx context.Context, dirname string) (map[string]struct{}, error)
}

// Classification is the classifier's output: the tasks to hand out and how
// many directories fell into each bucket.
type Classification struct {
	Tasks   []Task
	Skipped int
	Full    int
	Partial int
	Missing int // files across all partial tasks
}

// Classify reads every directory from dirs and decides, against counts (a
// snapshot of count(dicomdb)+count(errors) per dirname taken before the
// run):
//
//   - not in counts: full scan
//   - recorded >= on disk: skip. Catalog rows for vanished files are kept.
//   - recorded < on disk: partial scan of exactly the unrecorded files
//
// Classify consumes dirs until it is closed or an error occurs. All store
// reads happen here, before any scanner starts.
func Classify(ctx context.Context, dirs <-chan Dir, counts map[string]int, lister PathLister, progress *Progress) (Classification, error) {
	var c Classification
	for d := range dirs {
		recorded, seen := counts[d.Path]
		switch {
		case !seen:
			c.Tasks = append(c.Tasks, Task{Dir: d.Path, Kind: KindFull})
			c.Full++
			progress.DirsFull.Add(1)
			metrics.DirectoriesClassified.WithLabelValues(metrics.OutcomeFull).Inc()

		case recorded >= len(d.Files):
			c.Skipped++
			progress.DirsSkipped.Add(1)
			metrics.DirectoriesClassified.WithLabelValues(metrics.OutcomeSkip).Inc()

		default:
			done, err := lister.RecordedPaths(ctx, d.Path)
			if err != nil {
				return c, fmt.Errorf("classify %q: %w", d.Path, err)
			}
			missing := missingFiles(d.Files, done)
			if len(missing) == 0 {
				c.Skipped++
				progress.DirsSkipped.Add(1)
				metrics.DirectoriesClassified.WithLabelValues(metrics.OutcomeSkip).Inc()
				continue
			}
			slog.Debug("partial directory", "dir", d.Path,
				"on_disk", len(d.Files), "recorded", recorded, "missing", len(missing))
			c.Tasks = append(c.Tasks, Task{Dir: d.Path, Kind: KindPartial, Files: missing})
			c.Partial++
			c.Missing += len(missing)
			progress.DirsPartial.Add(1)
			progress.FilesMissing.Add(int64(len(missing)))
			metrics.DirectoriesClassified.WithLabelValues(metrics.OutcomePartial).Inc()
		}
	}
	return c, ctx.Err()
}

// missingFiles returns the entries of onDisk not present in recorded,
// preserving order.
func missingFiles(onDisk []string, recorded map[string]struct{}) []string {
	var out []string
	for _, p := range onDisk {
		if _, ok := recorded[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
