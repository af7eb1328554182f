package health

import (
	"testing"
	"time"
)

func TestSample_PopulatesGoroutineCount(t *testing.T) {
	c := NewCollector(func() int { return 7 })
	snap := c.Sample(10 * time.Millisecond)

	if snap.ActiveGoroutine != 7 {
		t.Fatalf("ActiveGoroutine = %d, want 7", snap.ActiveGoroutine)
	}
	if snap.Timestamp.IsZero() {
		t.Fatal("Timestamp should be set")
	}
}

func TestSample_NilGoroutineCountFunc(t *testing.T) {
	c := NewCollector(nil)
	snap := c.Sample(time.Millisecond)

	if snap.ActiveGoroutine != 0 {
		t.Fatalf("ActiveGoroutine = %d, want 0 when no func is supplied", snap.ActiveGoroutine)
	}
}

func TestMemoryLimit_NeverPanics(t *testing.T) {
	_ = memoryLimit() // bare-metal test runner: just confirm it returns without panicking
}
