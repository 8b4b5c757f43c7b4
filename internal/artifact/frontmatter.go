package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ParseFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope inkhartEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Metadata{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	body := bytes.TrimPrefix(parts[1], []byte("\n"))
	return meta, body, nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.Artifact == "" {
		return nil, fmt.Errorf("artifact: metadata missing artifact name")
	}
	envelope := inkhartEnvelope{}
	envelope.fromMetadata(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type inkhartEnvelope struct {
	Inkhart inkhartMetadata `yaml:"inkhart"`
}

type inkhartMetadata struct {
	Artifact string `yaml:"artifact"`
	Role     string `yaml:"role"`
	Version  int    `yaml:"version"`
	Words    int    `yaml:"words,omitempty"`
	Created  string `yaml:"created"`
}

func (e inkhartEnvelope) toMetadata() (Metadata, error) {
	if e.Inkhart.Artifact == "" || e.Inkhart.Role == "" || e.Inkhart.Version < 1 {
		return Metadata{}, ErrMalformedFrontMatter
	}
	created, err := parseTime(e.Inkhart.Created)
	if err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse created timestamp: %w", err)
	}
	return Metadata{
		Artifact:  e.Inkhart.Artifact,
		Role:      e.Inkhart.Role,
		Version:   e.Inkhart.Version,
		Words:     e.Inkhart.Words,
		CreatedAt: created,
	}, nil
}

func (e *inkhartEnvelope) fromMetadata(meta Metadata) {
	e.Inkhart.Artifact = meta.Artifact
	e.Inkhart.Role = meta.Role
	e.Inkhart.Version = meta.Version
	e.Inkhart.Words = meta.Words
	e.Inkhart.Created = meta.CreatedAt.UTC().Format(timeLayout)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("artifact: empty created timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
