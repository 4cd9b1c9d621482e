// Package concurrency implements the per-key and per-tool inflight-call
// caps described in spec.md §4.7. Either limit set to 0 disables that
// dimension entirely.
package concurrency

import (
	"fmt"
	"sync"

	"github.com/toolmeter/gateway/internal/errors"
)

// Limiter tracks inflight call counts per key and per tool.
type Limiter struct {
	mu        sync.Mutex
	byKey     map[string]int
	byTool    map[string]int
	byKeyTool map[string]int // "<key>|<tool>" -> inflight, informational only
	keyLimit  int            // 0 = unlimited
	toolLimit int            // 0 = unlimited
}

// New constructs a Limiter with the given per-key and per-tool caps.
func New(keyLimit, toolLimit int) *Limiter {
	return &Limiter{
		byKey:     make(map[string]int),
		byTool:    make(map[string]int),
		byKeyTool: make(map[string]int),
		keyLimit:  keyLimit,
		toolLimit: toolLimit,
	}
}

// Result is the outcome of Acquire.
type Result struct {
	Acquired        bool
	Reason          string
	CurrentInflight int
	Limit           int
}

// Acquire increments the key and tool inflight counters iff both are
// strictly below their configured caps; otherwise it denies, naming
// whichever dimension saturated first (key checked before tool).
func (l *Limiter) Acquire(key, tool string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.keyLimit > 0 && l.byKey[key] >= l.keyLimit {
		return Result{Reason: fmt.Sprintf("%s: limit %d", errors.ErrCodeConcurrencyKeyLimit, l.keyLimit), CurrentInflight: l.byKey[key], Limit: l.keyLimit}
	}
	if l.toolLimit > 0 && l.byTool[tool] >= l.toolLimit {
		return Result{Reason: fmt.Sprintf("%s: limit %d", errors.ErrCodeConcurrencyToolLimit, l.toolLimit), CurrentInflight: l.byTool[tool], Limit: l.toolLimit}
	}

	l.byKey[key]++
	l.byTool[tool]++
	l.byKeyTool[compositeKey(key, tool)]++
	return Result{Acquired: true}
}

// Release decrements the key and tool inflight counters, floored at zero.
func (l *Limiter) Release(key, tool string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.byKey[key] > 0 {
		l.byKey[key]--
	}
	if l.byTool[tool] > 0 {
		l.byTool[tool]--
	}
	ck := compositeKey(key, tool)
	if l.byKeyTool[ck] > 0 {
		l.byKeyTool[ck]--
	}
}

func compositeKey(key, tool string) string {
	return key + "|" + tool
}

// Snapshot is the result of Snapshot().
type Snapshot struct {
	ByKey         map[string]int `json:"byKey"`
	ByTool        map[string]int `json:"byTool"`
	ByKeyTool     map[string]int `json:"byKeyTool"`
	TotalInflight int            `json:"totalInflight"`
}

// Snapshot returns a copy of the current inflight state.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		ByKey:     make(map[string]int, len(l.byKey)),
		ByTool:    make(map[string]int, len(l.byTool)),
		ByKeyTool: make(map[string]int, len(l.byKeyTool)),
	}
	total := 0
	for k, n := range l.byKey {
		snap.ByKey[k] = n
		total += n
	}
	for t, n := range l.byTool {
		snap.ByTool[t] = n
	}
	for kt, n := range l.byKeyTool {
		snap.ByKeyTool[kt] = n
	}
	snap.TotalInflight = total
	return snap
}
