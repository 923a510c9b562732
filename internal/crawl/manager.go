package crawl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a crawl is started while one is in progress.
var ErrAlreadyRunning = errors.New("a crawl is already in progress")

// ErrNoActiveCrawl is returned when cancel is called with no crawl running.
var ErrNoActiveCrawl = errors.New("no crawl is currently running")

// ActiveCrawl holds live information about the running crawl.
type ActiveCrawl struct {
	ID          int64
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// FinishedCrawl describes the most recent completed, cancelled or failed run.
type FinishedCrawl struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	TriggeredBy string    `json:"triggered_by"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Summary     Summary   `json:"summary"`
}

// Runner is what the Manager drives. *Crawler satisfies it.
type Runner interface {
	Run(ctx context.Context, progress *Progress) (Summary, error)
}

// Manager enforces a single active crawl per process and exposes
// start/cancel. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	runner Runner
	nextID int64

	active   *ActiveCrawl
	cancelFn context.CancelFunc
	done     chan struct{}
	last     *FinishedCrawl
}

// NewManager creates a Manager around runner.
func NewManager(runner Runner) *Manager {
	return &Manager{runner: runner}
}

// Start launches an asynchronous crawl. parentCtx is the base for the crawl
// context; cancelling it cancels the crawl. Returns ErrAlreadyRunning if a
// crawl is already in progress.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveCrawl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	m.nextID++
	progress := &Progress{}
	crawlCtx, cancel := context.WithCancel(parentCtx)
	active := &ActiveCrawl{
		ID:          m.nextID,
		StartedAt:   time.Now(),
		TriggeredBy: triggeredBy,
		Progress:    progress,
	}
	done := make(chan struct{})
	m.active = active
	m.cancelFn = cancel
	m.done = done

	go func() {
		defer close(done)
		defer cancel()

		sum, err := m.runner.Run(crawlCtx, progress)
		fin := &FinishedCrawl{
			ID:          active.ID,
			StartedAt:   active.StartedAt,
			FinishedAt:  time.Now(),
			TriggeredBy: triggeredBy,
			Status:      "completed",
			Summary:     sum,
		}
		switch {
		case errors.Is(err, context.Canceled):
			fin.Status = "cancelled"
		case err != nil:
			fin.Status = "failed"
			fin.Error = err.Error()
			slog.Error("crawl run error", "id", active.ID, "error", err)
		}

		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.last = fin
		m.mu.Unlock()
	}()

	snap := *active
	return &snap, nil
}

// Cancel stops the currently running crawl. Returns ErrNoActiveCrawl if idle.
func (m *Manager) Cancel() (*ActiveCrawl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveCrawl
	}
	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// Active returns a snapshot of the running crawl, or nil when idle.
func (m *Manager) Active() *ActiveCrawl {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// Last returns the most recently finished crawl, or nil if none has run.
func (m *Manager) Last() *FinishedCrawl {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	snap := *m.last
	return &snap
}

// Wait blocks until the crawl running at call time finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	running := m.active != nil
	m.mu.Unlock()
	if !running || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
