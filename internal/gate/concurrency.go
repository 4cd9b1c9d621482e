package gate

import (
	"strings"

	"github.com/toolmeter/gateway/internal/concurrency"
	"github.com/toolmeter/gateway/internal/errors"
)

// AcquireConcurrency claims an inflight slot for key/tool, for a transport
// to hold across the window it considers "the call" (spec.md §4.7 is a
// standalone module: it is not one of the 11 evaluate steps, since the
// actual downstream tool invocation happens outside this gateway's
// process). A nil limiter always acquires.
func (g *Gate) AcquireConcurrency(key, tool string) concurrency.Result {
	if g.concurrency == nil {
		return concurrency.Result{Acquired: true}
	}
	result := g.concurrency.Acquire(key, tool)
	if !result.Acquired && g.metrics != nil {
		scope := "key"
		if strings.HasPrefix(result.Reason, string(errors.ErrCodeConcurrencyToolLimit)) {
			scope = "tool"
		}
		g.metrics.ObserveConcurrencyRejection(scope)
	}
	if result.Acquired && g.metrics != nil {
		g.metrics.SetInflight("global", g.concurrency.Snapshot().TotalInflight)
	}
	return result
}

// ReleaseConcurrency frees the slot claimed by a prior successful
// AcquireConcurrency. Safe to call even when no limiter is attached.
func (g *Gate) ReleaseConcurrency(key, tool string) {
	if g.concurrency == nil {
		return
	}
	g.concurrency.Release(key, tool)
	if g.metrics != nil {
		g.metrics.SetInflight("global", g.concurrency.Snapshot().TotalInflight)
	}
}

// ConcurrencySnapshot exposes the current inflight counts for the admin
// surface. Returns a Snapshot of empty, non-nil maps when no limiter is
// attached.
func (g *Gate) ConcurrencySnapshot() concurrency.Snapshot {
	if g.concurrency == nil {
		return concurrency.Snapshot{ByKey: map[string]int{}, ByTool: map[string]int{}, ByKeyTool: map[string]int{}}
	}
	return g.concurrency.Snapshot()
}
