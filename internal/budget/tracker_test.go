package budget

import "testing"

func TestTrackerThreshold(t *testing.T) {
	tracker := NewTracker(1000, 0.9)
	tracker.Record(899)
	if tracker.ExceedsThreshold() {
		t.Fatalf("threshold tripped at %d/1000", tracker.Count())
	}
	tracker.Record(1)
	if !tracker.ExceedsThreshold() {
		t.Fatalf("threshold not tripped at %d/1000", tracker.Count())
	}
	if tracker.Remaining() != 100 {
		t.Fatalf("remaining = %d, want 100", tracker.Remaining())
	}
}

func TestTrackerResetRebases(t *testing.T) {
	tracker := NewTracker(1000, 0.9)
	tracker.Record(950)
	tracker.Reset(200)
	if tracker.Count() != 200 {
		t.Fatalf("count = %d, want 200", tracker.Count())
	}
	if tracker.ExceedsThreshold() {
		t.Fatalf("threshold should clear after reset")
	}
}

func TestTrackerIgnoresNegativeRecord(t *testing.T) {
	tracker := NewTracker(100, 0.5)
	tracker.Record(-10)
	if tracker.Count() != 0 {
		t.Fatalf("count = %d, want 0", tracker.Count())
	}
}

func TestTrackerBadThresholdFallsBack(t *testing.T) {
	tracker := NewTracker(100, 1.5)
	tracker.Record(90)
	if !tracker.ExceedsThreshold() {
		t.Fatalf("expected fallback 0.90 threshold to trip at 90/100")
	}
}

func TestDefaultEstimator(t *testing.T) {
	if got := DefaultEstimator(""); got != 0 {
		t.Fatalf("estimate of empty string = %d, want 0", got)
	}
	if got := DefaultEstimator("one two three"); got < 3 {
		t.Fatalf("estimate = %d, want >= word count", got)
	}
}
