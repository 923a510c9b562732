// Package scheduler re-runs crawls on a cron schedule so newly arrived
// files are picked up without an operator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eargollo/dicomcat/internal/crawl"
)

// Starter starts a crawl. *crawl.Manager satisfies it.
type Starter interface {
	Start(ctx context.Context, triggeredBy string) (*crawl.ActiveCrawl, error)
}

// Scheduler wraps robfig/cron and tracks the next scheduled crawl.
type Scheduler struct {
	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
}

// New creates a stopped Scheduler. Call Start to activate it.
func New() *Scheduler {
	return &Scheduler{c: cron.New()}
}

// ScheduleCrawl replaces the crawl job with one that fires on expr. Each
// firing starts a crawl under ctx; a firing that finds a crawl already
// running is skipped.
func (s *Scheduler) ScheduleCrawl(ctx context.Context, expr string, starter Starter) error {
	return s.setJob(expr, func() {
		active, err := starter.Start(ctx, "scheduled")
		switch {
		case errors.Is(err, crawl.ErrAlreadyRunning):
			slog.Info("scheduler: crawl still running, skipping", "cron", expr)
		case err != nil:
			slog.Error("scheduler: start crawl", "error", err)
		default:
			slog.Info("scheduler: crawl started", "id", active.ID)
		}
	})
}

func (s *Scheduler) setJob(expr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.c.AddFunc(expr, fn)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	s.entryID = id
	s.cronExpr = expr
	slog.Info("scheduler: crawl scheduled", "cron", expr)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for a running job callback to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// NextRunAt returns the next scheduled crawl, or nil if none is set or the
// loop is not running.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}
