// Package orchestrator drives the authoring pipeline: it owns the phase
// state machine, runs the role agents in sequence, applies the critique
// protocol and approval checkpoints, and is the single writer over the
// project's persisted state. External callers influence it only through
// the command queue, consumed at turn boundaries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/inkhart/inkhart/internal/agent"
	"github.com/inkhart/inkhart/internal/artifact"
	"github.com/inkhart/inkhart/internal/budget"
	"github.com/inkhart/inkhart/internal/compress"
	"github.com/inkhart/inkhart/internal/config"
	"github.com/inkhart/inkhart/internal/critique"
	"github.com/inkhart/inkhart/internal/events"
	"github.com/inkhart/inkhart/internal/llm"
	"github.com/inkhart/inkhart/internal/logbook"
	"github.com/inkhart/inkhart/internal/project"
	"github.com/inkhart/inkhart/internal/tooling"
)

// Decision is an external approval verdict.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdApproval
)

// Command is one external control request.
type Command struct {
	kind     commandKind
	decision Decision
	feedback string
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Store     project.StateStore
	Artifacts *artifact.Store
	Critiques *critique.Log
	Client    llm.Client
	Emitter   *events.Emitter
	Journal   *logbook.Journal
	Limiter   *semaphore.Weighted
	Estimator budget.Estimator
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAgentOptions passes options through to every constructed agent.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *Orchestrator) {
		o.agentOpts = opts
	}
}

// Orchestrator runs one project's pipeline.
type Orchestrator struct {
	cfg       *config.Config
	deps      Deps
	state     project.State
	tracker   *budget.Tracker
	agents    map[string]*agent.Agent
	histories map[string][]llm.Message
	commands  chan Command
	clock     func() time.Time
	agentOpts []agent.Option
	turnCount int
}

// New builds an orchestrator for a configured project.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator: state store is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("orchestrator: completion client is required")
	}
	if deps.Artifacts == nil || deps.Critiques == nil {
		return nil, fmt.Errorf("orchestrator: artifact store and critique log are required")
	}
	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		histories: map[string][]llm.Message{},
		commands:  make(chan Command, 16),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.tracker = budget.NewTracker(cfg.Project.Budget.TokenLimit, cfg.Project.Budget.CompressionThreshold)
	estimator := deps.Estimator
	if estimator == nil {
		estimator = budget.DefaultEstimator
	}
	compressor := compress.New(deps.Client, cfg.Project.Model, estimator)
	var toolLog tooling.Logger
	if deps.Journal != nil {
		toolLog = journalPrinter{deps.Journal}
	}
	dispatcher := tooling.NewDispatcher(deps.Artifacts, deps.Critiques, toolLog)

	o.agents = map[string]*agent.Agent{}
	for _, role := range []string{
		tooling.RoleArchitect,
		tooling.RolePlanCritic,
		tooling.RoleWriter,
		tooling.RoleChapterCritic,
	} {
		a, err := agent.New(agent.Config{
			Role:         role,
			SystemPrompt: o.systemPrompt(role),
			Model:        cfg.Project.Model,
			Client:       deps.Client,
			Dispatcher:   dispatcher,
			Tracker:      o.tracker,
			Compressor:   compressor,
			Emitter:      deps.Emitter,
			Limiter:      deps.Limiter,
			Journal:      deps.Journal,
			MaxCycles:    cfg.Project.Budget.MaxTurnCycles,
		}, o.agentOpts...)
		if err != nil {
			return nil, err
		}
		o.agents[role] = a
	}
	return o, nil
}

// Pause requests a pause at the next turn boundary.
func (o *Orchestrator) Pause() {
	o.commands <- Command{kind: cmdPause}
}

// Resume clears a pause that is not waiting on an approval decision.
func (o *Orchestrator) Resume() {
	o.commands <- Command{kind: cmdResume}
}

// SubmitApproval answers a pending approval request.
func (o *Orchestrator) SubmitApproval(decision Decision, feedback string) {
	o.commands <- Command{kind: cmdApproval, decision: decision, feedback: feedback}
}

// Run executes the pipeline until COMPLETE, a fatal error, or context
// cancellation. It loads persisted state when present, so a restarted
// process resumes where the last save left off.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.bootstrap(); err != nil {
		return o.fatal(err)
	}

	for o.state.Phase != project.PhaseComplete {
		if err := o.drainCommands(); err != nil {
			return o.fatal(err)
		}

		if o.state.Paused {
			if err := o.awaitCommand(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return o.fatal(err)
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.turnCount >= o.cfg.Project.Budget.MaxTurnCycles {
			return o.fatal(fmt.Errorf("orchestrator: safety cap of %d turns reached", o.turnCount))
		}

		if err := o.step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return o.fatal(err)
		}
	}

	if o.deps.Emitter != nil {
		o.deps.Emitter.Complete(len(o.state.ChaptersCompleted), o.state.TotalWords())
	}
	o.journalInfo("pipeline complete: %d chapters, %d words", len(o.state.ChaptersCompleted), o.state.TotalWords())
	return nil
}

func (o *Orchestrator) bootstrap() error {
	state, err := o.deps.Store.Load()
	switch {
	case err == nil:
		o.state = state
		// A crash mid-pause leaves Paused set; without a pending decision
		// there is nothing to wait for.
		if o.state.Paused && o.state.PendingApproval == nil {
			o.state.Paused = false
		}
		o.tracker.Reset(state.TokenUsage.Count)
		o.journalInfo("resumed at phase %s, chapter %d/%d", state.Phase, state.CurrentChapter, state.TotalChapters)
	case errors.Is(err, project.ErrStateNotFound):
		o.state = project.NewState(
			o.cfg.Project.Project.ID,
			o.cfg.TotalChapters(),
			o.cfg.Project.Budget.TokenLimit,
		)
		o.journalInfo("starting new project %s (%d chapters)", o.state.ProjectID, o.state.TotalChapters)
	default:
		return err
	}
	return o.save()
}

// step runs one agent turn for the current phase.
func (o *Orchestrator) step(ctx context.Context) error {
	o.turnCount++
	switch o.state.Phase {
	case project.PhasePlanning:
		return o.stepPlanning(ctx)
	case project.PhasePlanCritique:
		return o.stepCritique(ctx, planLoop)
	case project.PhaseWriting:
		return o.stepWriting(ctx)
	case project.PhaseWriteCritique:
		return o.stepCritique(ctx, chapterLoop)
	default:
		return fmt.Errorf("orchestrator: no step for phase %s", o.state.Phase)
	}
}

func (o *Orchestrator) drainCommands() error {
	for {
		select {
		case cmd := <-o.commands:
			if err := o.handleCommand(cmd); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (o *Orchestrator) awaitCommand(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case cmd := <-o.commands:
		return o.handleCommand(cmd)
	}
}

func (o *Orchestrator) handleCommand(cmd Command) error {
	switch cmd.kind {
	case cmdPause:
		if o.state.Paused {
			return nil
		}
		o.state.Paused = true
		o.journalInfo("paused at phase %s", o.state.Phase)
		return o.save()
	case cmdResume:
		if !o.state.Paused {
			return nil
		}
		if o.state.PendingApproval != nil {
			o.journalWarn("resume ignored: approval decision pending")
			return nil
		}
		o.state.Paused = false
		o.journalInfo("resumed")
		return o.save()
	case cmdApproval:
		return o.handleApproval(cmd)
	}
	return nil
}

func (o *Orchestrator) handleApproval(cmd Command) error {
	pending := o.state.PendingApproval
	if pending == nil {
		o.journalWarn("approval decision ignored: nothing pending")
		return nil
	}

	switch cmd.decision {
	case DecisionApprove:
		o.state.PendingApproval = nil
		o.state.Paused = false
		o.journalInfo("human approved %s", pending.Kind)
		if pending.Kind == project.ApprovalPlan {
			return o.enterWriting()
		}
		return o.completeChapter()
	case DecisionReject:
		// An explicit human rejection always buys another revision, even
		// past the critic's iteration cap. The counter keeps accumulating.
		o.state.PendingApproval = nil
		o.state.Paused = false
		o.journalInfo("human rejected %s: %s", pending.Kind, cmd.feedback)
		rec := critique.Record{
			Verdict:  critique.VerdictRevise,
			Feedback: cmd.feedback,
			External: true,
		}
		if pending.Kind == project.ApprovalPlan {
			rec.Target = tooling.PlanTarget
			rec.Iteration = o.state.PlanIteration
			if err := o.deps.Critiques.Append(rec); err != nil {
				o.journalWarn("record external rejection: %v", err)
			}
			o.state.PlanIteration++
			return o.reviseToPlanning(cmd.feedback)
		}
		if ref, err := artifact.ChapterRef(o.state.CurrentChapter); err == nil {
			rec.Target = ref.Name
		}
		rec.Iteration = o.state.ChapterIteration
		if err := o.deps.Critiques.Append(rec); err != nil {
			o.journalWarn("record external rejection: %v", err)
		}
		o.state.ChapterIteration++
		return o.reviseToWriting(cmd.feedback)
	default:
		o.journalWarn("unknown approval decision %q ignored", cmd.decision)
		return nil
	}
}

// transition moves phases, persists, and announces. A failed save is fatal
// and leaves the persisted state at the previous phase.
func (o *Orchestrator) transition(to project.Phase) error {
	from := o.state.Phase
	o.state.Phase = to
	if err := o.save(); err != nil {
		o.state.Phase = from
		return err
	}
	if o.deps.Emitter != nil {
		o.deps.Emitter.PhaseChange(string(from), string(to))
		o.deps.Emitter.Progress(o.state.Progress(), o.state.TotalWords())
	}
	o.journalInfo("phase %s -> %s", from, to)
	return nil
}

func (o *Orchestrator) save() error {
	o.state.TokenUsage = project.TokenUsage{Count: o.tracker.Count(), Limit: o.tracker.Limit()}
	o.state.UpdatedAt = o.clock().UTC()
	if err := o.deps.Store.Save(o.state); err != nil {
		return fmt.Errorf("orchestrator: persist state: %w", err)
	}
	return nil
}

func (o *Orchestrator) fatal(err error) error {
	if o.deps.Emitter != nil {
		o.deps.Emitter.Error(err.Error(), true)
	}
	if o.deps.Journal != nil {
		o.deps.Journal.Error("fatal: %v", err)
	}
	return err
}

func (o *Orchestrator) journalInfo(format string, args ...any) {
	if o.deps.Journal != nil {
		o.deps.Journal.Info(format, args...)
	}
}

func (o *Orchestrator) journalWarn(format string, args ...any) {
	if o.deps.Journal != nil {
		o.deps.Journal.Warn(format, args...)
	}
}

// journalPrinter adapts the journal to the dispatcher's Printf logger.
type journalPrinter struct {
	journal *logbook.Journal
}

func (p journalPrinter) Printf(format string, args ...any) {
	p.journal.Warn(format, args...)
}
