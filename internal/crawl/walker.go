package crawl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Dir is a leaf-with-files directory emitted by the walker: it directly
// contains at least one regular file. Files holds their absolute paths in
// directory order.
type Dir struct {
	Path  string
	Files []string
}

// Excluder drops directories whose path contains any of a fixed set of
// fragments.
type Excluder struct {
	fragments []string
}

// NewExcluder builds an Excluder. Empty fragments are ignored.
func NewExcluder(fragments []string) *Excluder {
	e := &Excluder{}
	for _, f := range fragments {
		if f != "" {
			e.fragments = append(e.fragments, f)
		}
	}
	return e
}

// Excluded reports whether path contains an excluded fragment.
func (e *Excluder) Excluded(path string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.fragments {
		if strings.Contains(path, f) {
			return true
		}
	}
	return false
}

// dirQueue is an unbounded, concurrency-safe queue of directory paths.
// It tracks a pending counter so that Walk() knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int // index of the next item to pop
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when the queue is closed and empty.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	// Compact once the consumed prefix dominates the backing array.
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child-directories have
// been pushed. Decrements pending; if pending reaches 0, closes the queue.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// close wakes every waiting Pop so workers can exit early on cancellation.
func (q *dirQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Walk traverses roots concurrently using numWorkers goroutines and sends
// every leaf-with-files directory to out. Walk closes out when done.
// Excluded directories are neither emitted nor descended into.
// report is called for directories that cannot be read.
func Walk(ctx context.Context, roots []string, excl *Excluder, numWorkers int, out chan<- Dir, progress *Progress, report ErrorReporter) {
	defer close(out)
	if numWorkers < 1 {
		numWorkers = 1
	}

	q := newDirQueue()
	for _, root := range roots {
		if excl.Excluded(root) {
			progress.DirsExcluded.Add(1)
			continue
		}
		q.pending.Add(1)
		q.Push(root)
	}
	if q.pending.Load() == 0 {
		return
	}

	stop := context.AfterFunc(ctx, q.close)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkerWorker(ctx, q, excl, out, progress, report)
		}()
	}
	wg.Wait()
}

// walkerWorker pops directories from q, enqueues non-excluded
// sub-directories (incrementing pending first), emits the directory if it
// holds regular files, then calls q.Done().
func walkerWorker(ctx context.Context, q *dirQueue, excl *Excluder, out chan<- Dir, progress *Progress, report ErrorReporter) {
	for {
		if ctx.Err() != nil {
			return
		}

		dir, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			report(dir, "walk", err.Error())
			q.Done()
			continue
		}

		var files []string
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				if excl.Excluded(path) {
					progress.DirsExcluded.Add(1)
					continue
				}
				// Increment BEFORE pushing so pending is never zero prematurely.
				q.pending.Add(1)
				q.Push(path)
				continue
			}
			if entry.Type().IsRegular() {
				files = append(files, path)
			}
		}

		if len(files) > 0 {
			progress.DirsDiscovered.Add(1)
			select {
			case <-ctx.Done():
				q.Done()
				return
			case out <- Dir{Path: dir, Files: files}:
			}
		}

		q.Done()
	}
}

// listFiles returns the regular files directly inside dir, using the same
// rule as the walker.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}
