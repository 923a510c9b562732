package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eargollo/dicomcat/internal/session"
)

// StudiesHandler serves the assembled upload sessions.
type StudiesHandler struct {
	Source session.FacetSource
}

type studiesResponse struct {
	Sessions  []session.Session   `json:"sessions"`
	Problems  []session.Problem   `json:"problems"`
	Batches   [][]session.Session `json:"batches,omitempty"`
	BatchSize int                 `json:"batch_size,omitempty"`
}

// List handles GET /api/studies. With ?batch_size=N the sessions are also
// returned split into upload batches.
func (h *StudiesHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := session.Assemble(r.Context(), h.Source)
	if err != nil {
		slog.Error("studies: assemble", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to assemble sessions")
		return
	}

	resp := studiesResponse{Sessions: res.Sessions, Problems: res.Problems}
	if v := r.URL.Query().Get("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_BATCH_SIZE", "batch_size must be a positive integer")
			return
		}
		resp.BatchSize = n
		resp.Batches = session.Batch(res.Sessions, n)
	}
	writeJSON(w, http.StatusOK, resp)
}
