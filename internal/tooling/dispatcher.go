// Package tooling maps model-emitted tool calls to concrete side effects:
// artifact writes, critique records, and the terminal submit markers the
// orchestrator consumes. Dispatch is a closed table keyed by tool name and
// validated against the calling phase's permitted set; a bad call is fed
// back to the model as a correctable error, never raised to the caller.
package tooling

import (
	"encoding/json"
	"fmt"

	"github.com/inkhart/inkhart/internal/artifact"
	"github.com/inkhart/inkhart/internal/critique"
	"github.com/inkhart/inkhart/internal/project"
)

// Agent role identifiers.
const (
	RoleArchitect     = "architect"
	RolePlanCritic    = "plan_critic"
	RoleWriter        = "writer"
	RoleChapterCritic = "chapter_critic"
)

// PlanTarget is the critique log target for the plan as a whole.
const PlanTarget = "plan"

// InvalidToolError reports a model misuse: unknown tool, tool outside the
// phase's permitted set, or undecodable arguments.
type InvalidToolError struct {
	Name   string
	Phase  project.Phase
	Reason string
}

func (e *InvalidToolError) Error() string {
	return fmt.Sprintf("invalid tool %q in phase %s: %s", e.Name, e.Phase, e.Reason)
}

// Call is one tool invocation in context.
type Call struct {
	Name      string
	Args      json.RawMessage
	Phase     project.Phase
	Chapter   int
	Iteration int
}

// Result is what the model sees back for a dispatched call.
type Result struct {
	Name     string
	Content  string
	IsErr    bool
	Terminal bool
}

// Effects accumulates the side-channel signals the orchestrator consumes
// after a turn: terminal submits, recorded critiques, written artifacts.
type Effects struct {
	PlanSubmitted    bool
	ChapterSubmitted bool
	ChapterWords     int
	Critique         *critique.Record
	WroteArtifacts   []string
}

// Logger records tool misuse for later inspection.
type Logger interface {
	Printf(format string, args ...any)
}

type handler struct {
	run      func(d *Dispatcher, call Call, fx *Effects) (string, error)
	terminal bool
}

// Dispatcher validates and executes tool calls.
type Dispatcher struct {
	artifacts *artifact.Store
	critiques *critique.Log
	logger    Logger
	permitted map[project.Phase]map[string]handler
}

// NewDispatcher builds a dispatcher over the project's stores. logger may
// be nil.
func NewDispatcher(artifacts *artifact.Store, critiques *critique.Log, logger Logger) *Dispatcher {
	d := &Dispatcher{
		artifacts: artifacts,
		critiques: critiques,
		logger:    logger,
	}
	d.permitted = map[project.Phase]map[string]handler{
		project.PhasePlanning: {
			"write_artifact": {run: runWriteArtifact},
			"submit_plan":    {run: runSubmitPlan, terminal: true},
		},
		project.PhasePlanCritique: {
			"read_artifact":   {run: runReadArtifact},
			"submit_critique": {run: runSubmitCritique, terminal: true},
		},
		project.PhaseWriting: {
			"read_artifact":           {run: runReadArtifact},
			"review_previous_writing": {run: runReviewPreviousWriting},
			"write_chapter":           {run: runWriteChapter},
			"submit_chapter":          {run: runSubmitChapter, terminal: true},
		},
		project.PhaseWriteCritique: {
			"read_artifact":   {run: runReadArtifact},
			"read_chapter":    {run: runReadChapter},
			"submit_critique": {run: runSubmitCritique, terminal: true},
		},
	}
	return d
}

// Permitted returns the tool names allowed in a phase.
func (d *Dispatcher) Permitted(phase project.Phase) []string {
	set := d.permitted[phase]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}

// Dispatch runs one tool call. The returned Result always goes back into
// the model's context; IsErr marks correctable misuse.
func (d *Dispatcher) Dispatch(call Call, fx *Effects) Result {
	set := d.permitted[call.Phase]
	h, ok := set[call.Name]
	if !ok {
		invalid := &InvalidToolError{Name: call.Name, Phase: call.Phase, Reason: "not permitted in this phase"}
		if d.logger != nil {
			d.logger.Printf("tooling: %v", invalid)
		}
		return Result{
			Name:    call.Name,
			Content: fmt.Sprintf("Error: %s. Available tools: %v.", invalid.Reason, d.Permitted(call.Phase)),
			IsErr:   true,
		}
	}
	content, err := h.run(d, call, fx)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("tooling: %s failed: %v", call.Name, err)
		}
		return Result{Name: call.Name, Content: "Error: " + err.Error(), IsErr: true}
	}
	return Result{Name: call.Name, Content: content, Terminal: h.terminal}
}

func decodeArgs(call Call, into any) error {
	if len(call.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(call.Args, into); err != nil {
		return &InvalidToolError{Name: call.Name, Phase: call.Phase, Reason: "arguments are not valid JSON: " + err.Error()}
	}
	return nil
}
