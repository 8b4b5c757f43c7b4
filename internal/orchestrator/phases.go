package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkhart/inkhart/internal/agent"
	"github.com/inkhart/inkhart/internal/artifact"
	"github.com/inkhart/inkhart/internal/critique"
	"github.com/inkhart/inkhart/internal/llm"
	"github.com/inkhart/inkhart/internal/project"
	"github.com/inkhart/inkhart/internal/tooling"
)

// critiqueLoop parameterizes the shared review protocol for the plan and
// for individual chapters.
type critiqueLoop struct {
	criticRole    string
	producerPhase project.Phase
}

var (
	planLoop    = critiqueLoop{criticRole: tooling.RolePlanCritic, producerPhase: project.PhasePlanning}
	chapterLoop = critiqueLoop{criticRole: tooling.RoleChapterCritic, producerPhase: project.PhaseWriting}
)

func (o *Orchestrator) stepPlanning(ctx context.Context) error {
	if len(o.histories[tooling.RoleArchitect]) == 0 {
		o.histories[tooling.RoleArchitect] = []llm.Message{{Role: llm.RoleUser, Content: o.planningBrief()}}
	}
	res, err := o.runRole(ctx, tooling.RoleArchitect)
	if err != nil {
		return err
	}
	if !res.Effects.PlanSubmitted {
		o.nudge(tooling.RoleArchitect, "The plan is not submitted yet. Finish the remaining planning documents and call submit_plan.")
		return nil
	}
	delete(o.histories, tooling.RolePlanCritic)
	return o.transition(project.PhasePlanCritique)
}

func (o *Orchestrator) stepWriting(ctx context.Context) error {
	if len(o.histories[tooling.RoleWriter]) == 0 {
		o.histories[tooling.RoleWriter] = []llm.Message{{Role: llm.RoleUser, Content: o.writingBrief()}}
	}
	res, err := o.runRole(ctx, tooling.RoleWriter)
	if err != nil {
		return err
	}
	if !res.Effects.ChapterSubmitted {
		o.nudge(tooling.RoleWriter, "The chapter is not submitted yet. Draft it with write_chapter, then call submit_chapter.")
		return nil
	}
	// A resubmission without a rewrite carries no word count; keep the
	// count from the last write_chapter call.
	if res.Effects.ChapterWords > 0 {
		o.state.RecordWords(o.state.CurrentChapter, res.Effects.ChapterWords)
	}
	delete(o.histories, tooling.RoleChapterCritic)
	return o.transition(project.PhaseWriteCritique)
}

func (o *Orchestrator) stepCritique(ctx context.Context, loop critiqueLoop) error {
	if len(o.histories[loop.criticRole]) == 0 {
		o.histories[loop.criticRole] = []llm.Message{{Role: llm.RoleUser, Content: o.critiqueBrief(loop)}}
	}
	res, err := o.runRole(ctx, loop.criticRole)
	if err != nil {
		return err
	}
	rec := res.Effects.Critique
	if rec == nil {
		o.nudge(loop.criticRole, "A verdict is still required. Call submit_critique with APPROVE or REVISE.")
		return nil
	}

	if rec.Verdict == critique.VerdictRevise {
		if o.iteration(loop) >= o.maxIterations(loop) {
			return o.autoApprove(loop, rec)
		}
		o.bumpIteration(loop)
		o.journalInfo("%s requested revision (iteration %d): %s", loop.criticRole, o.iteration(loop), rec.Feedback)
		if loop.producerPhase == project.PhasePlanning {
			return o.reviseToPlanning(rec.Feedback)
		}
		return o.reviseToWriting(rec.Feedback)
	}

	o.journalInfo("%s approved %s", loop.criticRole, rec.Target)
	return o.resolveApproved(loop)
}

// autoApprove converts a REVISE at the iteration cap into an approval so
// an unattended run cannot loop forever.
func (o *Orchestrator) autoApprove(loop critiqueLoop, rec *critique.Record) error {
	o.journalWarn("iteration cap %d reached for %s: auto-approving despite REVISE", o.maxIterations(loop), rec.Target)
	capped := critique.Record{
		Target:       rec.Target,
		Iteration:    o.iteration(loop),
		Verdict:      critique.VerdictApprove,
		Feedback:     "auto-approved at iteration cap",
		AutoApproved: true,
	}
	if err := o.deps.Critiques.Append(capped); err != nil {
		o.journalWarn("record auto-approval: %v", err)
	}
	return o.resolveApproved(loop)
}

// resolveApproved moves past an approved review, pausing for a human gate
// when the matching checkpoint is enabled.
func (o *Orchestrator) resolveApproved(loop critiqueLoop) error {
	if loop.producerPhase == project.PhasePlanning {
		if o.cfg.Project.Checkpoints.Plan {
			return o.requestApproval(project.ApprovalPlan, artifact.PlanNames[len(artifact.PlanNames)-1])
		}
		return o.enterWriting()
	}
	ref, err := artifact.ChapterRef(o.state.CurrentChapter)
	if err != nil {
		return err
	}
	if o.cfg.Project.Checkpoints.Chapter {
		return o.requestApproval(project.ApprovalChapter, ref.Name)
	}
	return o.completeChapter()
}

func (o *Orchestrator) requestApproval(kind project.ApprovalKind, payloadRef string) error {
	o.state.PendingApproval = &project.PendingApproval{Kind: kind, PayloadRef: payloadRef}
	o.state.Paused = true
	if err := o.save(); err != nil {
		return err
	}
	if o.deps.Emitter != nil {
		o.deps.Emitter.ApprovalRequired(string(kind), payloadRef)
	}
	o.journalInfo("waiting for human approval of %s (%s)", kind, payloadRef)
	return nil
}

// enterWriting starts (or resumes) the manuscript at the first chapter
// that is not yet complete.
func (o *Orchestrator) enterWriting() error {
	next := 1
	for next <= o.state.TotalChapters && o.state.ChapterCompleted(next) {
		next++
	}
	o.state.CurrentChapter = next
	o.state.ChapterIteration = 0
	delete(o.histories, tooling.RoleWriter)
	return o.transition(project.PhaseWriting)
}

// completeChapter commits the approved chapter and advances to the next
// one, or finishes the manuscript. The chapter draft is already durable
// in the artifact store; marking it complete and saving state is the
// commit point.
func (o *Orchestrator) completeChapter() error {
	o.state.MarkChapterCompleted(o.state.CurrentChapter)
	o.journalInfo("chapter %d complete (%d/%d)", o.state.CurrentChapter, len(o.state.ChaptersCompleted), o.state.TotalChapters)
	if len(o.state.ChaptersCompleted) >= o.state.TotalChapters {
		return o.transition(project.PhaseComplete)
	}
	return o.enterWriting()
}

func (o *Orchestrator) reviseToPlanning(feedback string) error {
	o.histories[tooling.RoleArchitect] = append(o.histories[tooling.RoleArchitect], llm.Message{
		Role:    llm.RoleUser,
		Content: "The plan needs revision before it can be approved.\n\nFeedback:\n" + feedback + "\n\nRevise the affected planning documents with write_artifact, then call submit_plan again.",
	})
	return o.transition(project.PhasePlanning)
}

func (o *Orchestrator) reviseToWriting(feedback string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d needs revision before it can be approved.\n\nFeedback:\n%s\n", o.state.CurrentChapter, feedback)
	if diff := o.chapterDiff(); diff != "" {
		b.WriteString("\nChanges made in the previous revision, for reference:\n")
		b.WriteString(diff)
	}
	b.WriteString("\nRevise the draft with write_chapter, then call submit_chapter again.")
	o.histories[tooling.RoleWriter] = append(o.histories[tooling.RoleWriter], llm.Message{
		Role:    llm.RoleUser,
		Content: b.String(),
	})
	return o.transition(project.PhaseWriting)
}

// chapterDiff renders the line diff between the last two drafts of the
// current chapter, or "" when only one draft exists.
func (o *Orchestrator) chapterDiff() string {
	ref, err := artifact.ChapterRef(o.state.CurrentChapter)
	if err != nil {
		return ""
	}
	meta, current, err := o.deps.Artifacts.Read(ref)
	if err != nil || meta.Version < 2 {
		return ""
	}
	_, previous, err := o.deps.Artifacts.ReadVersion(ref, meta.Version-1)
	if err != nil {
		return ""
	}
	return critique.DraftDiff(previous, current)
}

func (o *Orchestrator) runRole(ctx context.Context, role string) (agent.TurnResult, error) {
	a, ok := o.agents[role]
	if !ok {
		return agent.TurnResult{}, fmt.Errorf("orchestrator: no agent for role %s", role)
	}
	iteration := o.state.PlanIteration
	if o.state.Phase == project.PhaseWriting || o.state.Phase == project.PhaseWriteCritique {
		iteration = o.state.ChapterIteration
	}
	res, err := a.RunTurn(ctx, agent.TurnRequest{
		History:   o.histories[role],
		Phase:     o.state.Phase,
		Chapter:   o.state.CurrentChapter,
		Iteration: iteration,
	})
	if err != nil {
		return agent.TurnResult{}, fmt.Errorf("orchestrator: %s turn: %w", role, err)
	}
	o.histories[role] = res.History
	return res, nil
}

func (o *Orchestrator) nudge(role, text string) {
	o.histories[role] = append(o.histories[role], llm.Message{Role: llm.RoleUser, Content: text})
}

func (o *Orchestrator) iteration(loop critiqueLoop) int {
	if loop.producerPhase == project.PhasePlanning {
		return o.state.PlanIteration
	}
	return o.state.ChapterIteration
}

func (o *Orchestrator) maxIterations(loop critiqueLoop) int {
	if loop.producerPhase == project.PhasePlanning {
		return o.cfg.Project.Agents.MaxPlanCritiqueIterations
	}
	return o.cfg.Project.Agents.MaxWriteCritiqueIterations
}

func (o *Orchestrator) bumpIteration(loop critiqueLoop) {
	if loop.producerPhase == project.PhasePlanning {
		o.state.PlanIteration++
		return
	}
	o.state.ChapterIteration++
}

func (o *Orchestrator) planningBrief() string {
	p := o.cfg.Project.Project
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a %s-length novel of %d chapters.\n", p.Length, o.cfg.TotalChapters())
	if p.Name != "" {
		fmt.Fprintf(&b, "Working title: %s\n", p.Name)
	}
	if p.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", p.Theme)
	}
	if p.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s\n", p.Genre)
	}
	fmt.Fprintf(&b, "\nProduce the four planning documents with write_artifact: %s. When all four exist, call submit_plan.", strings.Join(artifact.PlanNames, ", "))
	return b.String()
}

func (o *Orchestrator) writingBrief() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write chapter %d of %d.\n\n", o.state.CurrentChapter, o.state.TotalChapters)
	b.WriteString("Consult the plan with read_artifact (outline, characters, structure, summary) and use review_previous_writing for continuity with earlier chapters. ")
	b.WriteString("Draft the full chapter with write_chapter, then call submit_chapter.")
	return b.String()
}

func (o *Orchestrator) critiqueBrief(loop critiqueLoop) string {
	if loop.producerPhase == project.PhasePlanning {
		return fmt.Sprintf("Review the submitted novel plan (iteration %d). Read the planning documents with read_artifact, judge coherence, pacing, and completeness, then call submit_critique with APPROVE or REVISE and concrete feedback.", o.state.PlanIteration)
	}
	return fmt.Sprintf("Review the submitted draft of chapter %d (iteration %d). Read it with read_chapter and check it against the plan with read_artifact, then call submit_critique with APPROVE or REVISE and concrete feedback.", o.state.CurrentChapter, o.state.ChapterIteration)
}

// systemPrompt resolves the prompt for a role, preferring a configured
// override and conditioning the writer on the user's sample prose.
func (o *Orchestrator) systemPrompt(role string) string {
	if override, ok := o.cfg.PromptOverride(role); ok {
		return override
	}
	prompt := defaultPrompts[role]
	if role == tooling.RoleWriter && o.cfg.Project.Project.WritingSample != "" {
		prompt += "\n\nMatch the voice and cadence of this sample from the author:\n\n" + o.cfg.Project.Project.WritingSample
	}
	return prompt
}

var defaultPrompts = map[string]string{
	tooling.RoleArchitect: "You are the story architect for a novel-writing studio. You design the book before a word of prose is written: premise, cast, structural beats, and a chapter-by-chapter outline. Be concrete and specific; vague plans produce vague books. Use your tools to write each planning document, and submit the plan only when every document stands on its own.",

	tooling.RolePlanCritic: "You are a developmental editor reviewing a novel plan. Look for structural weaknesses: sagging middles, unmotivated character turns, outlines that promise more chapters than the material supports. Approve only plans you would stake your name on; otherwise demand specific revisions.",

	tooling.RoleWriter: "You are the novelist drafting this book chapter by chapter. Follow the approved plan, keep continuity with what is already written, and write complete scenes rather than summaries. Every chapter should read as finished prose.",

	tooling.RoleChapterCritic: "You are a line editor reviewing a chapter draft against the book's plan. Check fidelity to the outline, continuity with earlier chapters, pacing, and prose quality. Approve chapters that deliver on the outline; request revision with pointed, actionable feedback when they do not.",
}
