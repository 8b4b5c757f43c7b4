// Package critique keeps the append-only record of critic verdicts per
// target artifact, and renders draft-to-draft diffs for revision feedback.
package critique

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Verdict is a critic's decision about a draft.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictRevise  Verdict = "REVISE"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictApprove || v == VerdictRevise
}

// Record is one critique of one draft version.
type Record struct {
	Target       string    `json:"target"`
	Iteration    int       `json:"iteration"`
	Verdict      Verdict   `json:"verdict"`
	Feedback     string    `json:"feedback,omitempty"`
	AutoApproved bool      `json:"auto_approved,omitempty"`
	External     bool      `json:"external,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Log stores critique records as one JSON file per target, append-only.
type Log struct {
	dir string
	now func() time.Time
}

// LogOption customizes a Log during construction.
type LogOption func(*Log)

// WithClock overrides the record timestamp clock.
func WithClock(clock func() time.Time) LogOption {
	return func(l *Log) {
		l.now = clock
	}
}

// NewLog builds a critique log rooted at dir.
func NewLog(dir string, opts ...LogOption) *Log {
	log := &Log{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(log)
	}
	return log
}

// Append adds a record to the target's log. Existing records are never
// rewritten.
func (l *Log) Append(rec Record) error {
	if rec.Target == "" {
		return fmt.Errorf("critique: record target is required")
	}
	if !rec.Verdict.Valid() {
		return fmt.Errorf("critique: unknown verdict %q", rec.Verdict)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	records, err := l.Records(rec.Target)
	if err != nil {
		return err
	}
	records = append(records, rec)
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("critique: ensure log dir: %w", err)
	}
	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("critique: encode log for %s: %w", rec.Target, err)
	}
	if err := os.WriteFile(l.path(rec.Target), append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("critique: write log for %s: %w", rec.Target, err)
	}
	return nil
}

// Records returns every recorded critique for a target, oldest first.
func (l *Log) Records(target string) ([]Record, error) {
	data, err := os.ReadFile(l.path(target))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("critique: read log for %s: %w", target, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("critique: parse log for %s: %w", target, err)
	}
	return records, nil
}

// Latest returns the most recent critique for a target.
func (l *Log) Latest(target string) (Record, bool, error) {
	records, err := l.Records(target)
	if err != nil || len(records) == 0 {
		return Record{}, false, err
	}
	return records[len(records)-1], true, nil
}

func (l *Log) path(target string) string {
	return filepath.Join(l.dir, target+".json")
}
