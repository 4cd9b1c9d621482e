// Package ratelimiter implements the Gate's own in-process sliding-window
// call counter, distinct from the coarse outer HTTP-layer limiter in
// internal/httplimiter. Each tracked key (a raw API key, or a composite
// "<apiKey>:tool:<toolName>" key) owns an ordered slice of UNIX-millisecond
// timestamps; a call is allowed iff, after pruning entries older than the
// window, fewer than the configured limit remain.
package ratelimiter

import (
	"fmt"
	"sync"
	"time"
)

const windowMillis = 60_000 // 60s sliding window, per spec.md §4.3

// Limiter is a sliding-window, in-process rate limiter. check and record
// are exposed separately so a composite key's pair can be combined under
// one caller-held lock when atomicity with another operation is required
// (e.g. the Gate's evaluate sequence); used independently they are each
// atomic with respect to the window they touch.
type Limiter struct {
	mu          sync.Mutex
	windows     map[string][]int64
	globalLimit int // 0 = unlimited
	gcInterval  time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New constructs a Limiter with the given default (global) limit and GC
// interval, and starts the background empty-window collector.
func New(globalLimit int, gcInterval time.Duration) *Limiter {
	if gcInterval <= 0 {
		gcInterval = 60 * time.Second
	}
	l := &Limiter{
		windows:     make(map[string][]int64),
		globalLimit: globalLimit,
		gcInterval:  gcInterval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go l.gcLoop()
	return l
}

// SetGlobalLimit rebinds the limit used by Check; effective on the next call.
func (l *Limiter) SetGlobalLimit(n int) {
	l.mu.Lock()
	l.globalLimit = n
	l.mu.Unlock()
}

// Check reports whether key may be allowed another call right now, under
// the configured global limit, without recording anything.
func (l *Limiter) Check(key string) (allowed bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(key, l.globalLimit)
}

// Record appends the current timestamp to key's window under the global limit.
func (l *Limiter) Record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(key)
}

// CheckCustom applies a per-call limit override to a (typically composite)
// key, e.g. a per-tool rate limit distinct from the key's global limit.
func (l *Limiter) CheckCustom(key string, limit int) (allowed bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(key, limit)
}

// RecordCustom appends the current timestamp to a composite key's window.
func (l *Limiter) RecordCustom(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(key)
}

// GetCurrentCount returns the live window size for key after pruning, used
// by batch evaluation to reason about in-flight-batch occurrences against
// the existing window.
func (l *Limiter) GetCurrentCount(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(key))
}

func (l *Limiter) checkLocked(key string, limit int) (bool, string) {
	if limit <= 0 {
		return true, ""
	}
	count := len(l.pruneLocked(key))
	if count >= limit {
		return false, fmt.Sprintf("rate_limited: %d calls/min exceeded", limit)
	}
	return true, ""
}

func (l *Limiter) recordLocked(key string) {
	window := l.pruneLocked(key)
	l.windows[key] = append(window, nowMillis())
}

// pruneLocked removes entries older than the sliding window and stores the
// pruned slice back, returning it. Must be called with l.mu held.
func (l *Limiter) pruneLocked(key string) []int64 {
	window := l.windows[key]
	cutoff := nowMillis() - windowMillis
	i := 0
	for i < len(window) && window[i] < cutoff {
		i++
	}
	if i > 0 {
		window = window[i:]
	}
	l.windows[key] = window
	return window
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// gcLoop periodically drops windows that have become empty, bounding
// memory for bursty or long-tail key populations.
func (l *Limiter) gcLoop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.collectEmpty()
		}
	}
}

func (l *Limiter) collectEmpty() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := nowMillis() - windowMillis
	for key := range l.windows {
		window := l.windows[key]
		i := 0
		for i < len(window) && window[i] < cutoff {
			i++
		}
		if i == len(window) {
			delete(l.windows, key)
		} else if i > 0 {
			l.windows[key] = window[i:]
		}
	}
}

// Close stops the background GC goroutine.
func (l *Limiter) Close() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// CompositeKey builds the "<apiKey>:tool:<toolName>" composite key used to
// isolate per-tool rate-limit counters from a key's global counter.
func CompositeKey(apiKey, tool string) string {
	return apiKey + ":tool:" + tool
}
