// Package ratelimit implements the inbound sliding-window limiter.
// This is deliberately a hand-built timestamp list, not a token
// bucket: golang.org/x/time/rate smooths arrivals into a refill rate and
// cannot reproduce the exact "at most N timestamps in any window of length
// W" accounting this needs. See DESIGN.md.
package ratelimit

import (
	"sync"
	"time"

	domain "github.com/nodevault/custodian/internal/domain/ratelimit"
)

// Limiter enforces at most MaxRequests allowed calls per Key within any
// WindowMS-length window, with a periodic sweep of empty keys.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string][]int64
	windowMS    int64
	maxRequests int
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewLimiter starts a Limiter with its periodic sweep goroutine running.
func NewLimiter(windowMS int64, maxRequests int) *Limiter {
	l := &Limiter{
		entries:     make(map[string][]int64),
		windowMS:    windowMS,
		maxRequests: maxRequests,
		stop:        make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Stop terminates the background sweep. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// CheckAndRecord drops timestamps older than now-windowMS for key, then
// either denies (if the remaining count is already >= maxRequests) or
// records nowMS and allows.
func (l *Limiter) CheckAndRecord(key string, nowMS int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := domain.Prune(l.entries[key], nowMS, l.windowMS)
	if len(pruned) >= l.maxRequests {
		l.entries[key] = pruned
		return false
	}
	l.entries[key] = append(pruned, nowMS)
	return true
}

// Sweep removes keys whose timestamp list is empty after pruning against the
// current time; it does not change allow/deny outcomes, only reclaims
// memory.
func (l *Limiter) Sweep() {
	now := time.Now().UnixMilli()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, ts := range l.entries {
		pruned := domain.Prune(ts, now, l.windowMS)
		if len(pruned) == 0 {
			delete(l.entries, key)
		} else {
			l.entries[key] = pruned
		}
	}
}
