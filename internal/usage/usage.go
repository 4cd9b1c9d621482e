// Package usage implements the bounded in-memory usage-event ring buffer
// and aggregate statistics described in spec.md §4.5. Events are retained
// only in memory; durable replication is left to an external collaborator
// such as internal/webhook.
package usage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toolmeter/gateway/internal/logger"
)

// DefaultCapacity is the default ring-buffer size.
const DefaultCapacity = 10_000

// Event is one recorded gate decision, mirroring spec.md §3's UsageEvent.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	APIKey         string    `json:"apiKey"` // already truncated at record time
	KeyName        string    `json:"keyName"`
	Tool           string    `json:"tool"`
	CreditsCharged int64     `json:"creditsCharged"` // negative on refund
	Allowed        bool      `json:"allowed"`
	DenyReason     string    `json:"denyReason,omitempty"`
	Namespace      string    `json:"namespace,omitempty"`
}

// Meter is a fixed-capacity ring buffer of Events plus running aggregates.
type Meter struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
	next     int // next write index
	size     int // number of valid entries, capped at capacity
}

// New constructs a Meter with the given ring capacity (DefaultCapacity if <= 0).
func New(capacity int) *Meter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Meter{
		capacity: capacity,
		events:   make([]Event, capacity),
	}
}

// Record appends event, masking the API key to its first 10 characters,
// overwriting the oldest entry once the buffer is full.
func (m *Meter) Record(event Event) {
	event.APIKey = logger.TruncateAPIKey(event.APIKey)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[m.next] = event
	m.next = (m.next + 1) % m.capacity
	if m.size < m.capacity {
		m.size++
	}
}

// Summary is the result of getSummary.
type Summary struct {
	TotalCalls    int64           `json:"totalCalls"`
	AllowedCalls  int64           `json:"allowedCalls"`
	DeniedCalls   int64           `json:"deniedCalls"`
	TotalCredits  int64           `json:"totalCreditsCharged"`
	PerTool       map[string]Tool `json:"perTool"`
	UniqueKeys    int             `json:"uniqueKeys"`
	PeakHour      string          `json:"peakHour,omitempty"` // RFC3339 hour bucket, e.g. "2026-08-01T14:00:00Z"
	PeakHourCalls int64           `json:"peakHourCalls"`
}

// Tool is the per-tool breakdown within a Summary.
type Tool struct {
	Calls   int64 `json:"calls"`
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
	Credits int64 `json:"credits"`
}

// Filter narrows getSummary to a time range and/or namespace.
type Filter struct {
	Since     time.Time // zero means no lower bound
	Namespace string    // empty means all namespaces
}

// GetSummary aggregates the currently-retained events matching filter.
func (m *Meter) GetSummary(filter Filter) Summary {
	m.mu.RLock()
	snapshot := m.snapshotLocked()
	m.mu.RUnlock()

	summary := Summary{PerTool: make(map[string]Tool)}
	keys := make(map[string]struct{})
	hourBuckets := make(map[string]int64)

	for _, e := range snapshot {
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Namespace != "" && e.Namespace != filter.Namespace {
			continue
		}

		summary.TotalCalls++
		if e.Allowed {
			summary.AllowedCalls++
		} else {
			summary.DeniedCalls++
		}
		summary.TotalCredits += e.CreditsCharged
		keys[e.APIKey] = struct{}{}

		tool := summary.PerTool[e.Tool]
		tool.Calls++
		if e.Allowed {
			tool.Allowed++
		} else {
			tool.Denied++
		}
		tool.Credits += e.CreditsCharged
		summary.PerTool[e.Tool] = tool

		bucket := e.Timestamp.UTC().Truncate(time.Hour).Format(time.RFC3339)
		hourBuckets[bucket]++
	}

	summary.UniqueKeys = len(keys)
	summary.PeakHour, summary.PeakHourCalls = peakHour(hourBuckets)
	return summary
}

func peakHour(buckets map[string]int64) (string, int64) {
	var bestHour string
	var bestCount int64
	// Deterministic tie-break: earliest hour wins.
	hours := make([]string, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Strings(hours)
	for _, h := range hours {
		if buckets[h] > bestCount {
			bestCount = buckets[h]
			bestHour = h
		}
	}
	return bestHour, bestCount
}

// snapshotLocked returns events in chronological-ish recording order
// (oldest retained entry first). Must be called with m.mu held.
func (m *Meter) snapshotLocked() []Event {
	out := make([]Event, 0, m.size)
	if m.size < m.capacity {
		out = append(out, m.events[:m.size]...)
		return out
	}
	out = append(out, m.events[m.next:]...)
	out = append(out, m.events[:m.next]...)
	return out
}

// Snapshot returns a copy of all currently-retained events, newest-last.
func (m *Meter) Snapshot() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// WriteCSV renders events as CSV rows (header included), masking the API
// key to its first 10 characters plus ellipsis per spec.md §4.5. Events
// are already masked at Record time, so this simply formats them.
func WriteCSV(events []Event) string {
	var b []byte
	b = append(b, "timestamp,apiKey,keyName,tool,creditsCharged,allowed,denyReason,namespace\n"...)
	for _, e := range events {
		b = append(b, fmt.Sprintf("%s,%s,%s,%s,%d,%t,%s,%s\n",
			e.Timestamp.UTC().Format(time.RFC3339),
			csvEscape(e.APIKey),
			csvEscape(e.KeyName),
			csvEscape(e.Tool),
			e.CreditsCharged,
			e.Allowed,
			csvEscape(e.DenyReason),
			csvEscape(e.Namespace),
		)...)
	}
	return string(b)
}

func csvEscape(s string) string {
	needsQuote := false
	for _, r := range s {
		if r == ',' || r == '"' || r == '\n' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return s
	}
	escaped := make([]byte, 0, len(s)+2)
	escaped = append(escaped, '"')
	for _, r := range s {
		if r == '"' {
			escaped = append(escaped, '"', '"')
		} else {
			escaped = append(escaped, string(r)...)
		}
	}
	escaped = append(escaped, '"')
	return string(escaped)
}
