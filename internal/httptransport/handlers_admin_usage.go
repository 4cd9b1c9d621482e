package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/toolmeter/gateway/internal/usage"
)

// usageSummary aggregates retained usage events, optionally filtered by a
// "since" RFC3339 timestamp and "namespace" query param.
// GET /admin/usage/summary
func (h *handlers) usageSummary(w http.ResponseWriter, r *http.Request) {
	filter := parseUsageFilter(r)
	writeJSON(w, http.StatusOK, h.gate.Usage().GetSummary(filter))
}

// usageExport streams the retained usage events as CSV.
// GET /admin/usage/export
func (h *handlers) usageExport(w http.ResponseWriter, r *http.Request) {
	events := h.gate.Usage().Snapshot()
	filter := parseUsageFilter(r)
	filtered := make([]usage.Event, 0, len(events))
	for _, e := range events {
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Namespace != "" && e.Namespace != filter.Namespace {
			continue
		}
		filtered = append(filtered, e)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=usage.csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(usage.WriteCSV(filtered)))
}

func parseUsageFilter(r *http.Request) usage.Filter {
	filter := usage.Filter{Namespace: r.URL.Query().Get("namespace")}
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = since
		} else if secs, err := strconv.ParseInt(sinceStr, 10, 64); err == nil {
			filter.Since = time.Unix(secs, 0)
		}
	}
	return filter
}
