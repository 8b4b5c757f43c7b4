package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested artifact does not exist yet.
var ErrNotFound = errors.New("artifact: not found")

// Store manages artifact IO under the project's artifact directories. Writes
// are idempotent per name; overwriting keeps the previous draft under
// versions/ so revisions can be diffed.
type Store struct {
	planningDir   string
	manuscriptDir string
	now           func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store rooted at the planning and manuscript directories.
func NewStore(planningDir, manuscriptDir string, opts ...StoreOption) *Store {
	store := &Store{
		planningDir:   planningDir,
		manuscriptDir: manuscriptDir,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Write persists the artifact body with provenance metadata. The returned
// metadata carries the assigned version number.
func (s *Store) Write(ref Ref, body string, role string) (Metadata, error) {
	if err := ref.Validate(); err != nil {
		return Metadata{}, err
	}
	if role == "" {
		return Metadata{}, fmt.Errorf("artifact: author role is required for %s", ref.Name)
	}
	path := s.path(ref)
	version := 1
	if prior, priorBody, err := s.Read(ref); err == nil {
		version = prior.Version + 1
		if err := s.archive(ref, prior, priorBody); err != nil {
			return Metadata{}, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Metadata{}, err
	}

	meta := Metadata{
		Artifact:  ref.Name,
		Role:      role,
		Version:   version,
		Words:     countWords(body),
		CreatedAt: s.now().UTC(),
	}
	content, err := WriteFrontMatter(meta, []byte(body))
	if err != nil {
		return Metadata{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Metadata{}, err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Metadata{}, fmt.Errorf("artifact: write %s: %w", ref.Name, err)
	}
	return meta, nil
}

// Read returns the current metadata and body for an artifact.
func (s *Store) Read(ref Ref) (Metadata, string, error) {
	if err := ref.Validate(); err != nil {
		return Metadata{}, "", err
	}
	data, err := os.ReadFile(s.path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, "", ErrNotFound
		}
		return Metadata{}, "", fmt.Errorf("artifact: read %s: %w", ref.Name, err)
	}
	meta, body, err := ParseFrontMatter(data)
	if err != nil {
		return Metadata{}, "", err
	}
	if meta.Artifact != ref.Name {
		return Metadata{}, "", fmt.Errorf("artifact: metadata name %s does not match %s", meta.Artifact, ref.Name)
	}
	return meta, string(body), nil
}

// ReadVersion returns an archived draft of an artifact.
func (s *Store) ReadVersion(ref Ref, version int) (Metadata, string, error) {
	if err := ref.Validate(); err != nil {
		return Metadata{}, "", err
	}
	data, err := os.ReadFile(s.versionPath(ref, version))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, "", ErrNotFound
		}
		return Metadata{}, "", fmt.Errorf("artifact: read %s v%d: %w", ref.Name, version, err)
	}
	meta, body, err := ParseFrontMatter(data)
	if err != nil {
		return Metadata{}, "", err
	}
	return meta, string(body), nil
}

// Exists reports whether the artifact has been written.
func (s *Store) Exists(ref Ref) bool {
	if ref.Validate() != nil {
		return false
	}
	_, err := os.Stat(s.path(ref))
	return err == nil
}

// PlanComplete reports whether every plan artifact has been written.
func (s *Store) PlanComplete() bool {
	for _, name := range PlanNames {
		ref, _ := PlanRef(name)
		if !s.Exists(ref) {
			return false
		}
	}
	return true
}

// ReadPlan returns the bodies of every written plan artifact keyed by name.
func (s *Store) ReadPlan() (map[string]string, error) {
	plan := make(map[string]string, len(PlanNames))
	for _, name := range PlanNames {
		ref, _ := PlanRef(name)
		_, body, err := s.Read(ref)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		plan[name] = body
	}
	return plan, nil
}

func (s *Store) archive(ref Ref, meta Metadata, body string) error {
	content, err := WriteFrontMatter(meta, []byte(body))
	if err != nil {
		return err
	}
	path := s.versionPath(ref, meta.Version)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func (s *Store) dir(ref Ref) string {
	if ref.Kind == KindChapter {
		return s.manuscriptDir
	}
	return s.planningDir
}

func (s *Store) path(ref Ref) string {
	return filepath.Join(s.dir(ref), ref.Filename())
}

func (s *Store) versionPath(ref Ref, version int) string {
	return filepath.Join(s.dir(ref), "versions", fmt.Sprintf("%s.v%d.md", ref.Name, version))
}

func countWords(body string) int {
	return len(strings.Fields(body))
}
