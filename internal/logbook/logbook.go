// Package logbook records orchestration milestones (phase transitions,
// critique verdicts, compression events, approvals) to a plain text journal
// that the status command and the monitor can tail.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a journal entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Journal persists pipeline progress to a simple text file.
type Journal struct {
	path string
	mu   sync.Mutex
}

// New creates a journal that writes to the provided path.
func New(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Journal{path: path}, nil
}

// Path returns the file backing this journal.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Append writes a single entry to the journal.
func (j *Journal) Append(level Level, message string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		time.Now().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent journal entries.
func (j *Journal) Tail(maxLines int) []string {
	if j == nil || maxLines <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.Open(j.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 {
		return nil
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

// Info appends an informational entry.
func (j *Journal) Info(format string, args ...any) {
	j.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (j *Journal) Warn(format string, args ...any) {
	j.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (j *Journal) Error(format string, args ...any) {
	j.Append(LevelError, fmt.Sprintf(format, args...))
}
