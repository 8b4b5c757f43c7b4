package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrStateNotFound is returned when no persisted project state exists yet.
var ErrStateNotFound = errors.New("project: state not found")

// StateStore persists project state snapshots.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores project state as a JSON file.
type Repository struct {
	path string
}

// NewRepository creates a repository writing to the given state file path.
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

// Load reads the persisted state if present.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("project: read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("project: parse state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save writes the state atomically: the snapshot lands in a temp file in the
// same directory and is renamed over the destination, so a concurrent Load
// never observes a partial write.
func (r *Repository) Save(state State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("project: ensure state dir: %w", err)
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("project: encode state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "state-*.json")
	if err != nil {
		return fmt.Errorf("project: create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("project: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("project: close temp state: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("project: replace state: %w", err)
	}
	return nil
}
