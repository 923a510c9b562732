package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/dicomcat/internal/crawl"
)

// CrawlsHandler handles crawl start/cancel endpoints.
type CrawlsHandler struct {
	Manager *crawl.Manager
	// BaseCtx parents every crawl started over HTTP; cancelling it (server
	// shutdown) cancels the crawl. Defaults to context.Background().
	BaseCtx context.Context
}

// Create handles POST /api/crawls and triggers a manual crawl.
func (h *CrawlsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := h.BaseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	active, err := h.Manager.Start(ctx, "manual")
	if err != nil {
		if errors.Is(err, crawl.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "CRAWL_ALREADY_RUNNING", "A crawl is already in progress")
			return
		}
		slog.Error("crawls: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start crawl")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":           active.ID,
		"status":       "running",
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/crawls/current.
func (h *CrawlsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, crawl.ErrNoActiveCrawl) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_CRAWL", "No crawl is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         snap.ID,
		"status":     "cancelling",
		"started_at": snap.StartedAt.UTC().Format(time.RFC3339),
	})
}
