// internal/config/config.go
//
// This package handles configuration and the .inkhart directory structure.
// Every project that uses Inkhart gets a .inkhart/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// InkhartDir is the name of the directory we create in each project
	InkhartDir = ".inkhart"

	defaultModel = "kimi-k2"
)

// Chapter counts per configured novel length.
const (
	LengthShort    = "short"
	LengthNovella  = "novella"
	LengthStandard = "standard"
	LengthEpic     = "epic"
)

var chaptersByLength = map[string]int{
	LengthShort:    5,
	LengthNovella:  10,
	LengthStandard: 20,
	LengthEpic:     40,
}

const defaultProjectConfigYAML = `# inkhart project configuration
version: 1

project:
  # id is minted on init; leave it alone.
  id: %s
  name: Untitled
  # short (5 chapters) | novella (10) | standard (20) | epic (40)
  length: novella
  theme: ""
  genre: ""
  # Optional prose sample used to condition the writer's voice.
  writing_sample: ""

checkpoints:
  # Pause for human approval after the plan is critic-approved.
  plan: true
  # Pause for human approval after each chapter is critic-approved.
  chapter: false

agents:
  max_plan_critique_iterations: 2
  max_write_critique_iterations: 2
  # Per-role system prompt overrides. Roles: architect, plan_critic,
  # writer, chapter_critic.
  prompts: {}

budget:
  token_limit: 200000
  compression_threshold: 0.90
  max_turn_cycles: 300

model: kimi-k2
`

// ProjectSettings identifies the novel being produced.
type ProjectSettings struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Length        string `yaml:"length"`
	Theme         string `yaml:"theme,omitempty"`
	Genre         string `yaml:"genre,omitempty"`
	WritingSample string `yaml:"writing_sample,omitempty"`
}

// CheckpointSettings toggles the human approval gates.
type CheckpointSettings struct {
	Plan    bool `yaml:"plan"`
	Chapter bool `yaml:"chapter"`
}

// AgentSettings bounds the critique loops and carries prompt overrides.
type AgentSettings struct {
	MaxPlanCritiqueIterations  int               `yaml:"max_plan_critique_iterations"`
	MaxWriteCritiqueIterations int               `yaml:"max_write_critique_iterations"`
	Prompts                    map[string]string `yaml:"prompts,omitempty"`
}

// BudgetSettings governs the context window policy.
type BudgetSettings struct {
	TokenLimit           int     `yaml:"token_limit"`
	CompressionThreshold float64 `yaml:"compression_threshold"`
	MaxTurnCycles        int     `yaml:"max_turn_cycles"`
}

// ProjectConfig models .inkhart/config.yaml.
type ProjectConfig struct {
	Version     int                `yaml:"version"`
	Project     ProjectSettings    `yaml:"project"`
	Checkpoints CheckpointSettings `yaml:"checkpoints"`
	Agents      AgentSettings      `yaml:"agents"`
	Budget      BudgetSettings     `yaml:"budget"`
	Model       string             `yaml:"model"`
}

// Config holds the runtime configuration for Inkhart.
type Config struct {
	// ProjectDir is the directory where the user ran `inkhart` from
	ProjectDir string

	// InkhartProjectDir is ProjectDir/.inkhart
	InkhartProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .inkhart directory structure in the given
// project directory and seeds a default config.yaml with a fresh project ID.
//
// Structure created:
// .inkhart/
// ├── artifacts/
// │   ├── planning/   <- summary, characters, structure, outline
// │   └── manuscript/ <- chapter_NN.md
// ├── critiques/      <- append-only critique logs per target
// ├── logs/           <- orchestration log file
// └── state.json      <- persisted ProjectState (written on first save)
func InitProjectDir(projectDir string) error {
	root := filepath.Join(projectDir, InkhartDir)

	dirs := []string{
		filepath.Join(root, "artifacts", "planning"),
		filepath.Join(root, "artifacts", "manuscript"),
		filepath.Join(root, "critiques"),
		filepath.Join(root, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig loads the project configuration for a project directory.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		InkhartProjectDir: filepath.Join(projectDir, InkhartDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ArtifactsDir returns the root artifact directory.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.InkhartProjectDir, "artifacts")
}

// PlanningDir returns the directory holding plan artifacts.
func (c *Config) PlanningDir() string {
	return filepath.Join(c.ArtifactsDir(), "planning")
}

// ManuscriptDir returns the directory holding chapter artifacts.
func (c *Config) ManuscriptDir() string {
	return filepath.Join(c.ArtifactsDir(), "manuscript")
}

// CritiquesDir returns the directory holding critique logs.
func (c *Config) CritiquesDir() string {
	return filepath.Join(c.InkhartProjectDir, "critiques")
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.InkhartProjectDir, "logs")
}

// StatePath returns the on-disk location of the persisted project state.
func (c *Config) StatePath() string {
	return filepath.Join(c.InkhartProjectDir, "state.json")
}

// JournalPath returns the on-disk location of the orchestration journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// DecisionPath returns the file external approve/reject commands write to.
func (c *Config) DecisionPath() string {
	return filepath.Join(c.InkhartProjectDir, "decision.json")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.InkhartProjectDir, "config.yaml")
}

// TotalChapters resolves the configured length to a chapter count.
func (c *Config) TotalChapters() int {
	return chaptersByLength[c.Project.Project.Length]
}

// PromptOverride returns the configured system prompt override for a role.
func (c *Config) PromptOverride(role string) (string, bool) {
	prompt, ok := c.Project.Agents.Prompts[role]
	return strings.TrimSpace(prompt), ok && strings.TrimSpace(prompt) != ""
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Project: ProjectSettings{
			Name:   "Untitled",
			Length: LengthNovella,
		},
		Checkpoints: CheckpointSettings{Plan: true},
		Agents: AgentSettings{
			MaxPlanCritiqueIterations:  2,
			MaxWriteCritiqueIterations: 2,
			Prompts:                    map[string]string{},
		},
		Budget: BudgetSettings{
			TokenLimit:           200000,
			CompressionThreshold: 0.90,
			MaxTurnCycles:        300,
		},
		Model: defaultModel,
	}
}

func (pc *ProjectConfig) applyDefaults() {
	defaults := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Project.Name == "" {
		pc.Project.Name = defaults.Project.Name
	}
	if pc.Project.Length == "" {
		pc.Project.Length = defaults.Project.Length
	}
	if pc.Agents.MaxPlanCritiqueIterations == 0 {
		pc.Agents.MaxPlanCritiqueIterations = defaults.Agents.MaxPlanCritiqueIterations
	}
	if pc.Agents.MaxWriteCritiqueIterations == 0 {
		pc.Agents.MaxWriteCritiqueIterations = defaults.Agents.MaxWriteCritiqueIterations
	}
	if pc.Agents.Prompts == nil {
		pc.Agents.Prompts = map[string]string{}
	}
	if pc.Budget.TokenLimit == 0 {
		pc.Budget.TokenLimit = defaults.Budget.TokenLimit
	}
	if pc.Budget.CompressionThreshold == 0 {
		pc.Budget.CompressionThreshold = defaults.Budget.CompressionThreshold
	}
	if pc.Budget.MaxTurnCycles == 0 {
		pc.Budget.MaxTurnCycles = defaults.Budget.MaxTurnCycles
	}
	if pc.Model == "" {
		pc.Model = defaults.Model
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Project.ID = strings.TrimSpace(pc.Project.ID)
	pc.Project.Name = strings.TrimSpace(pc.Project.Name)
	pc.Project.Length = strings.ToLower(strings.TrimSpace(pc.Project.Length))
	pc.Project.Theme = strings.TrimSpace(pc.Project.Theme)
	pc.Project.Genre = strings.TrimSpace(pc.Project.Genre)
	pc.Model = strings.TrimSpace(pc.Model)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if _, ok := chaptersByLength[pc.Project.Length]; !ok {
		return fmt.Errorf("project.length must be one of short, novella, standard, epic")
	}
	if pc.Agents.MaxPlanCritiqueIterations < 1 {
		return fmt.Errorf("agents.max_plan_critique_iterations must be >= 1")
	}
	if pc.Agents.MaxWriteCritiqueIterations < 1 {
		return fmt.Errorf("agents.max_write_critique_iterations must be >= 1")
	}
	if pc.Budget.TokenLimit < 1 {
		return fmt.Errorf("budget.token_limit must be >= 1")
	}
	if pc.Budget.CompressionThreshold <= 0 || pc.Budget.CompressionThreshold > 1 {
		return fmt.Errorf("budget.compression_threshold must be in (0, 1]")
	}
	if pc.Budget.MaxTurnCycles < 1 {
		return fmt.Errorf("budget.max_turn_cycles must be >= 1")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	seeded := fmt.Sprintf(defaultProjectConfigYAML, uuid.NewString())
	return os.WriteFile(path, []byte(seeded), 0o644)
}

// Save persists the current project configuration back to config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.InkhartProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure inkhart dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
