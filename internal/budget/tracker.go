// Package budget tracks token consumption for the active context against a
// configured limit. The tracker is a plain counter; the orchestrator owns
// when to consult it and what to do when the threshold trips.
package budget

import "strings"

// Estimator converts text to an approximate token count. The concrete
// heuristic is injected; DefaultEstimator is a serviceable stand-in.
type Estimator func(text string) int

// DefaultEstimator approximates tokens as the larger of words and bytes/4.
func DefaultEstimator(text string) int {
	byBytes := len(text) / 4
	byWords := len(strings.Fields(text))
	if byWords > byBytes {
		return byWords
	}
	return byBytes
}

// Tracker maintains a running token count for the active context.
type Tracker struct {
	total     int
	limit     int
	threshold float64
}

// NewTracker builds a tracker for the given limit and threshold fraction.
// Out-of-range thresholds fall back to 0.90.
func NewTracker(limit int, threshold float64) *Tracker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.90
	}
	return &Tracker{limit: limit, threshold: threshold}
}

// Record adds n tokens to the running total. Negative values are ignored.
func (t *Tracker) Record(n int) {
	if n > 0 {
		t.total += n
	}
}

// Reset rebases the running total, used after context compression.
func (t *Tracker) Reset(n int) {
	if n < 0 {
		n = 0
	}
	t.total = n
}

// Count returns the current running total.
func (t *Tracker) Count() int {
	return t.total
}

// Limit returns the configured token limit.
func (t *Tracker) Limit() int {
	return t.limit
}

// Remaining returns limit minus the running total; never negative.
func (t *Tracker) Remaining() int {
	left := t.limit - t.total
	if left < 0 {
		return 0
	}
	return left
}

// ExceedsThreshold reports whether the total has reached the configured
// fraction of the limit.
func (t *Tracker) ExceedsThreshold() bool {
	return float64(t.total) >= t.threshold*float64(t.limit)
}
