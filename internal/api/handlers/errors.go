package handlers

import (
	"log/slog"
	"net/http"

	"github.com/eargollo/dicomcat/internal/catalog"
)

// ErrorsHandler serves the ErrorRecord audit trail.
type ErrorsHandler struct {
	Store *catalog.Store
}

// List handles GET /api/errors?dirname=&limit=&offset=.
func (h *ErrorsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.Store.ListErrors(r.Context(), r.URL.Query().Get("dirname"), limit, offset)
	if err != nil {
		slog.Error("errors list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list errors")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[catalog.ErrorRecord]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
