// Package artifact stores the generated text units the pipeline exchanges:
// the four plan documents and one document per chapter. Every artifact is a
// markdown file with a YAML frontmatter block carrying provenance, and prior
// drafts are retained so critics can see what changed between revisions.

package artifact

import (
	"fmt"
	"time"
)

// Kind distinguishes plan documents from manuscript chapters.
type Kind string

const (
	KindPlan    Kind = "plan"
	KindChapter Kind = "chapter"
)

// The complete set of plan artifact names.
var PlanNames = []string{"summary", "characters", "structure", "outline"}

// IsPlanName reports whether name is one of the four plan artifacts.
func IsPlanName(name string) bool {
	for _, known := range PlanNames {
		if name == known {
			return true
		}
	}
	return false
}

// Ref identifies one artifact.
type Ref struct {
	Name    string
	Kind    Kind
	Chapter int
}

// PlanRef builds a reference to a plan artifact.
func PlanRef(name string) (Ref, error) {
	if !IsPlanName(name) {
		return Ref{}, fmt.Errorf("artifact: unknown plan artifact %q", name)
	}
	return Ref{Name: name, Kind: KindPlan}, nil
}

// ChapterRef builds a reference to a chapter artifact.
func ChapterRef(chapter int) (Ref, error) {
	if chapter < 1 {
		return Ref{}, fmt.Errorf("artifact: chapter must be >= 1, got %d", chapter)
	}
	return Ref{Name: fmt.Sprintf("chapter_%02d", chapter), Kind: KindChapter, Chapter: chapter}, nil
}

// Filename returns the artifact's on-disk file name.
func (r Ref) Filename() string {
	return r.Name + ".md"
}

// Validate ensures the reference is well-formed.
func (r Ref) Validate() error {
	switch r.Kind {
	case KindPlan:
		if !IsPlanName(r.Name) {
			return fmt.Errorf("artifact: unknown plan artifact %q", r.Name)
		}
	case KindChapter:
		if r.Chapter < 1 {
			return fmt.Errorf("artifact: chapter number missing for %q", r.Name)
		}
	default:
		return fmt.Errorf("artifact: kind is required for %q", r.Name)
	}
	return nil
}

// Metadata captures provenance stored in artifact frontmatter.
type Metadata struct {
	Artifact  string
	Role      string
	Version   int
	Words     int
	CreatedAt time.Time
}

// ValidateFor ensures metadata matches the artifact it annotates.
func (m Metadata) ValidateFor(ref Ref) error {
	if m.Artifact != ref.Name {
		return fmt.Errorf("artifact: metadata name %s does not match ref %s", m.Artifact, ref.Name)
	}
	if m.Role == "" {
		return fmt.Errorf("artifact: author role is required for %s", ref.Name)
	}
	if m.Version < 1 {
		return fmt.Errorf("artifact: version must be >= 1 for %s", ref.Name)
	}
	return nil
}
