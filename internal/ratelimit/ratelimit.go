// Package ratelimit provides a process-local sliding window limiter.
// Each server instance keeps its own view; limits are not shared across
// horizontally scaled processes.
package ratelimit

import (
	"sync"
	"time"
)

type Window struct {
	mu      sync.Mutex
	max     int
	span    time.Duration
	entries map[string][]time.Time
}

func NewWindow(max int, span time.Duration) *Window {
	return &Window{
		max:     max,
		span:    span,
		entries: make(map[string][]time.Time),
	}
}

// Allow records an attempt for key and reports whether it fits in the
// window. Attempts older than the span are dropped first.
func (w *Window) Allow(key string) bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.entries[key][:0]
	for _, t := range w.entries[key] {
		if now.Sub(t) < w.span {
			kept = append(kept, t)
		}
	}
	if len(kept) >= w.max {
		w.entries[key] = kept
		return false
	}
	w.entries[key] = append(kept, now)
	return true
}

// Sweep drops keys whose every attempt has aged out. Callers run it
// periodically; correctness does not depend on it.
func (w *Window) Sweep() {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, times := range w.entries {
		stale := true
		for _, t := range times {
			if now.Sub(t) < w.span {
				stale = false
				break
			}
		}
		if stale {
			delete(w.entries, key)
		}
	}
}
