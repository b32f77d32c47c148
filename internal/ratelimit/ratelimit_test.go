package ratelimit

import (
	"testing"
	"time"
)

func TestWindowAllowsUpToMax(t *testing.T) {
	w := NewWindow(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !w.Allow("k") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if w.Allow("k") {
		t.Fatalf("fourth attempt should be rejected")
	}
	if !w.Allow("other") {
		t.Fatalf("distinct key should not share the window")
	}
}

func TestWindowExpiresOldAttempts(t *testing.T) {
	w := NewWindow(1, 10*time.Millisecond)
	if !w.Allow("k") {
		t.Fatalf("first attempt should be allowed")
	}
	if w.Allow("k") {
		t.Fatalf("second immediate attempt should be rejected")
	}
	time.Sleep(15 * time.Millisecond)
	if !w.Allow("k") {
		t.Fatalf("attempt after window should be allowed")
	}
}

func TestSweepDropsStaleKeys(t *testing.T) {
	w := NewWindow(1, time.Millisecond)
	w.Allow("k")
	time.Sleep(5 * time.Millisecond)
	w.Sweep()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) != 0 {
		t.Fatalf("expected stale keys to be swept, have %d", len(w.entries))
	}
}
