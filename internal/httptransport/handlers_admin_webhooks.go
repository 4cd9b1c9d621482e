package httptransport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/toolmeter/gateway/internal/errors"
)

// listDLQ returns webhook deliveries that exhausted their retry budget.
// GET /admin/webhooks/dlq?limit=100
func (h *handlers) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 1000 {
			errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	events, err := h.webhookDLQ.List(r.Context(), limit)
	if err != nil {
		errors.WriteError(w, errors.ErrCodeStorageError, "failed to list DLQ entries", map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": events, "count": len(events)})
}

// deleteDLQEntry removes one entry after manual inspection/replay.
// POST /admin/webhooks/dlq/{id}/delete
func (h *handlers) deleteDLQEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errors.WriteSimpleError(w, errors.ErrCodeMissingField, "id is required")
		return
	}
	if err := h.webhookDLQ.Delete(r.Context(), id); err != nil {
		errors.WriteError(w, errors.ErrCodeStorageError, "failed to delete DLQ entry", map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// concurrencySnapshot returns current inflight counts per key/tool.
// GET /admin/concurrency
func (h *handlers) concurrencySnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.ConcurrencySnapshot())
}
