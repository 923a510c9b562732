package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/dicomcat/internal/catalog"
	"github.com/eargollo/dicomcat/internal/crawl"
	"github.com/eargollo/dicomcat/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Store   *catalog.Store
	Manager *crawl.Manager
	Sched   *scheduler.Scheduler // nil when no schedule is configured
	Version string
}

type statusResponse struct {
	Version     string               `json:"version"`
	ActiveCrawl *activeCrawlInfo     `json:"active_crawl"`
	LastCrawl   *crawl.FinishedCrawl `json:"last_crawl"`
	Schedule    scheduleInfo         `json:"schedule"`
	Catalog     *catalog.Totals      `json:"catalog"`
}

type activeCrawlInfo struct {
	ID          int64             `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	TriggeredBy string            `json:"triggered_by"`
	Progress    crawlProgressInfo `json:"progress"`
}

type crawlProgressInfo struct {
	DirsDiscovered  int64 `json:"dirs_discovered"`
	DirsExcluded    int64 `json:"dirs_excluded"`
	DirsSkipped     int64 `json:"dirs_skipped"`
	DirsFull        int64 `json:"dirs_full"`
	DirsPartial     int64 `json:"dirs_partial"`
	TasksTotal      int64 `json:"tasks_total"`
	TasksDone       int64 `json:"tasks_done"`
	FilesCatalogued int64 `json:"files_catalogued"`
	FilesErrored    int64 `json:"files_errored"`
	Fallbacks       int64 `json:"fallbacks"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:     h.Version,
		ActiveCrawl: h.activeCrawl(),
		LastCrawl:   h.Manager.Last(),
	}
	if h.Sched != nil {
		resp.Schedule = scheduleInfo{Cron: h.Sched.CronExpr(), NextRunAt: h.Sched.NextRunAt()}
	}
	if totals, err := h.Store.Totals(r.Context()); err != nil {
		slog.Error("status: catalog totals", "error", err)
	} else {
		resp.Catalog = &totals
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) activeCrawl() *activeCrawlInfo {
	a := h.Manager.Active()
	if a == nil {
		return nil
	}
	p := a.Progress
	return &activeCrawlInfo{
		ID:          a.ID,
		StartedAt:   a.StartedAt.UTC(),
		TriggeredBy: a.TriggeredBy,
		Progress: crawlProgressInfo{
			DirsDiscovered:  p.DirsDiscovered.Load(),
			DirsExcluded:    p.DirsExcluded.Load(),
			DirsSkipped:     p.DirsSkipped.Load(),
			DirsFull:        p.DirsFull.Load(),
			DirsPartial:     p.DirsPartial.Load(),
			TasksTotal:      p.TasksTotal.Load(),
			TasksDone:       p.TasksDone.Load(),
			FilesCatalogued: p.FilesCatalogued.Load(),
			FilesErrored:    p.FilesErrored.Load(),
			Fallbacks:       p.Fallbacks.Load(),
		},
	}
}
