package logbook

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTailReturnsRecentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.log")
	journal, err := New(path)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	for i := 0; i < 5; i++ {
		journal.Info("entry-%d", i)
	}
	lines := journal.Tail(3)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	journal, err := New(filepath.Join(dir, "journal.log"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if lines := journal.Tail(10); lines != nil {
		t.Fatalf("expected nil tail on missing file, got %v", lines)
	}
}

func TestLevelsAreRecorded(t *testing.T) {
	dir := t.TempDir()
	journal, err := New(filepath.Join(dir, "journal.log"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	journal.Warn("iteration cap hit for %s", "plan")
	journal.Error("model call failed")
	lines := journal.Tail(2)
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "WARN") || !strings.Contains(lines[1], "ERROR") {
		t.Fatalf("levels missing from %v", lines)
	}
}
