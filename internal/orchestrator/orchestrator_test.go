package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/inkhart/inkhart/internal/artifact"
	"github.com/inkhart/inkhart/internal/config"
	"github.com/inkhart/inkhart/internal/critique"
	"github.com/inkhart/inkhart/internal/events"
	"github.com/inkhart/inkhart/internal/llm/llmtest"
	"github.com/inkhart/inkhart/internal/project"
	"github.com/inkhart/inkhart/internal/tooling"
)

type harness struct {
	cfg      *config.Config
	client   *llmtest.Client
	store    *project.Repository
	critLog  *critique.Log
	router   *events.Router
	sub      events.Subscription
	orch     *Orchestrator
	done     chan error
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	if err := config.InitProjectDir(dir); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	cfg.Project.Checkpoints.Plan = false
	cfg.Project.Checkpoints.Chapter = false
	if mutate != nil {
		mutate(cfg)
	}

	client := llmtest.NewClient()
	store := project.NewRepository(cfg.StatePath())
	critLog := critique.NewLog(cfg.CritiquesDir())
	router := events.NewRouter()
	sub := router.Subscribe(cfg.Project.Project.ID)
	t.Cleanup(sub.Close)

	orch, err := New(cfg, Deps{
		Store:     store,
		Artifacts: artifact.NewStore(cfg.PlanningDir(), cfg.ManuscriptDir()),
		Critiques: critLog,
		Client:    client,
		Emitter:   events.NewEmitter(cfg.Project.Project.ID, router),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{
		cfg:     cfg,
		client:  client,
		store:   store,
		critLog: critLog,
		router:  router,
		sub:     sub,
		orch:    orch,
		done:    make(chan error, 1),
	}
}

// seedState pre-persists a state so Run resumes from it instead of
// starting fresh. Tests use it to pin a small chapter count.
func (h *harness) seedState(t *testing.T, state project.State) {
	t.Helper()
	if err := h.store.Save(state); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() {
		h.done <- h.orch.Run(ctx)
	}()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("orchestrator did not finish")
		return nil
	}
}

// waitEvent consumes events until one of the wanted type arrives.
func (h *harness) waitEvent(t *testing.T, kind events.Type) events.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-h.sub.Events:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", kind)
			}
			if ev.Type == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func planReplies() []llmtest.Reply {
	replies := make([]llmtest.Reply, 0, len(artifact.PlanNames)+1)
	for _, name := range artifact.PlanNames {
		replies = append(replies, llmtest.ToolCallReply("write_artifact",
			fmt.Sprintf(`{"name":%q,"content":"Draft of the %s document."}`, name, name)))
	}
	return append(replies, llmtest.ToolCallReply("submit_plan", `{}`))
}

func approveReply() llmtest.Reply {
	return llmtest.ToolCallReply("submit_critique", `{"verdict":"APPROVE","feedback":"solid work"}`)
}

func reviseReply(feedback string) llmtest.Reply {
	return llmtest.ToolCallReply("submit_critique", fmt.Sprintf(`{"verdict":"REVISE","feedback":%q}`, feedback))
}

func chapterReplies(text string) []llmtest.Reply {
	return []llmtest.Reply{
		llmtest.ToolCallReply("write_chapter", fmt.Sprintf(`{"content":%q}`, text)),
		llmtest.ToolCallReply("submit_chapter", `{}`),
	}
}

func TestPipelineRunsToCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("The storm broke over the harbor at dawn and did not let up.")...)
	h.client.Enqueue(approveReply())

	h.start(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Phase != project.PhaseComplete {
		t.Fatalf("phase = %s, want COMPLETE", state.Phase)
	}
	if len(state.ChaptersCompleted) != 1 || state.ChaptersCompleted[0] != 1 {
		t.Fatalf("chapters completed = %v, want [1]", state.ChaptersCompleted)
	}
	if state.WordCounts[1] == 0 {
		t.Fatalf("no word count recorded for chapter 1")
	}
	ev := h.waitEvent(t, events.TypeComplete)
	var payload events.CompletePayload
	if err := ev.Decode(&payload); err != nil {
		t.Fatalf("decode complete payload: %v", err)
	}
	if payload.Chapters != 1 {
		t.Fatalf("complete event chapters = %d, want 1", payload.Chapters)
	}
}

func TestPhaseChangeSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("A quiet chapter about leaving home.")...)
	h.client.Enqueue(approveReply())

	h.start(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"PLAN_CRITIQUE", "WRITING", "WRITE_CRITIQUE", "COMPLETE"}
	var got []string
	for len(got) < len(want) {
		ev := h.waitEvent(t, events.TypePhaseChange)
		var payload events.PhaseChangePayload
		if err := ev.Decode(&payload); err != nil {
			t.Fatalf("decode phase change: %v", err)
		}
		got = append(got, payload.To)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phase sequence = %v, want %v", got, want)
		}
	}
}

func TestPlanReviseThenApprove(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Project.Checkpoints.Plan = true
	})
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(reviseReply("the outline sags in the middle"))
	h.client.Enqueue(llmtest.ToolCallReply("write_artifact", `{"name":"outline","content":"Tightened outline."}`))
	h.client.Enqueue(llmtest.ToolCallReply("submit_plan", `{}`))
	h.client.Enqueue(approveReply())

	h.start(t)
	h.waitEvent(t, events.TypeApprovalRequired)

	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.PlanIteration != 1 {
		t.Fatalf("plan iteration = %d, want 1", state.PlanIteration)
	}
	if state.PendingApproval == nil || state.PendingApproval.Kind != project.ApprovalPlan {
		t.Fatalf("pending approval = %+v, want PLAN", state.PendingApproval)
	}

	recs, err := h.critLog.Records(tooling.PlanTarget)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 || recs[0].Verdict != critique.VerdictRevise || recs[1].Verdict != critique.VerdictApprove {
		t.Fatalf("unexpected critique records: %+v", recs)
	}

	// The revision request must carry the critic's feedback to the architect.
	var sawFeedback bool
	for _, call := range h.client.Calls() {
		for _, msg := range call.Messages {
			if strings.Contains(msg.Content, "the outline sags in the middle") {
				sawFeedback = true
			}
		}
	}
	if !sawFeedback {
		t.Fatalf("architect never saw the revision feedback")
	}

	h.cancel()
	if err := h.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v, want context.Canceled", err)
	}
}

func TestAutoApproveAtIterationCap(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Project.Checkpoints.Plan = true
		cfg.Project.Agents.MaxPlanCritiqueIterations = 1
	})
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(reviseReply("needs more conflict"))
	h.client.Enqueue(llmtest.ToolCallReply("write_artifact", `{"name":"outline","content":"Outline with more conflict."}`))
	h.client.Enqueue(llmtest.ToolCallReply("submit_plan", `{}`))
	h.client.Enqueue(reviseReply("still not enough conflict"))

	h.start(t)
	h.waitEvent(t, events.TypeApprovalRequired)

	rec, ok, err := h.critLog.Latest(tooling.PlanTarget)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if !rec.AutoApproved || rec.Verdict != critique.VerdictApprove {
		t.Fatalf("latest record = %+v, want auto-approval", rec)
	}

	h.cancel()
	if err := h.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v, want context.Canceled", err)
	}
}

func TestExternalRejectBuysRevision(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Project.Checkpoints.Plan = true
	})
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(llmtest.ToolCallReply("write_artifact", `{"name":"summary","content":"Summary with a darker ending."}`))
	h.client.Enqueue(llmtest.ToolCallReply("submit_plan", `{}`))
	h.client.Enqueue(approveReply())

	h.start(t)
	h.waitEvent(t, events.TypeApprovalRequired)
	h.orch.SubmitApproval(DecisionReject, "I want a darker ending")
	h.waitEvent(t, events.TypeApprovalRequired)

	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.PlanIteration != 1 {
		t.Fatalf("plan iteration = %d, want 1 after external reject", state.PlanIteration)
	}

	recs, err := h.critLog.Records(tooling.PlanTarget)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	var external *critique.Record
	for i := range recs {
		if recs[i].External {
			external = &recs[i]
		}
	}
	if external == nil || external.Verdict != critique.VerdictRevise {
		t.Fatalf("no external REVISE record found in %+v", recs)
	}

	h.cancel()
	if err := h.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v, want context.Canceled", err)
	}
}

func TestChapterReviseThenApprove(t *testing.T) {
	h := newHarness(t, nil)
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("First draft of the opening chapter.")...)
	h.client.Enqueue(reviseReply("tighten the pacing"))
	h.client.Enqueue(chapterReplies("Second draft, tighter and faster.")...)
	h.client.Enqueue(approveReply())

	h.start(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Phase != project.PhaseComplete {
		t.Fatalf("phase = %s, want COMPLETE", state.Phase)
	}

	ref, _ := artifact.ChapterRef(1)
	recs, err := h.critLog.Records(ref.Name)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 || recs[0].Verdict != critique.VerdictRevise || recs[1].Verdict != critique.VerdictApprove {
		t.Fatalf("unexpected chapter critique records: %+v", recs)
	}

	var sawFeedback bool
	for _, call := range h.client.Calls() {
		for _, msg := range call.Messages {
			if strings.Contains(msg.Content, "tighten the pacing") {
				sawFeedback = true
			}
		}
	}
	if !sawFeedback {
		t.Fatalf("writer never saw the revision feedback")
	}
}

func TestResubmitWithoutRewriteKeepsWordCount(t *testing.T) {
	h := newHarness(t, nil)
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("five words in this draft")...)
	h.client.Enqueue(reviseReply("read it once more"))
	// The writer stands by the existing draft and resubmits without a rewrite.
	h.client.Enqueue(llmtest.ToolCallReply("submit_chapter", `{}`))
	h.client.Enqueue(approveReply())

	h.start(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.WordCounts[1] != 5 {
		t.Fatalf("word count for chapter 1 = %d, want 5 from the original draft", state.WordCounts[1])
	}
}

func TestMultiChapterRunAdvancesThroughEachChapter(t *testing.T) {
	h := newHarness(t, nil)
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 2, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("a rough first pass at chapter one")...)
	h.client.Enqueue(reviseReply("the opening image is muddled"))
	h.client.Enqueue(chapterReplies("the first chapter runs six words")...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("and the second chapter runs seven words")...)
	h.client.Enqueue(approveReply())

	h.start(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"PLAN_CRITIQUE",
		"WRITING", "WRITE_CRITIQUE", "WRITING", "WRITE_CRITIQUE",
		"WRITING", "WRITE_CRITIQUE",
		"COMPLETE",
	}
	var got []string
	for len(got) < len(want) {
		ev := h.waitEvent(t, events.TypePhaseChange)
		var payload events.PhaseChangePayload
		if err := ev.Decode(&payload); err != nil {
			t.Fatalf("decode phase change: %v", err)
		}
		got = append(got, payload.To)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phase sequence = %v, want %v", got, want)
		}
	}

	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.ChaptersCompleted) != 2 || state.ChaptersCompleted[0] != 1 || state.ChaptersCompleted[1] != 2 {
		t.Fatalf("chapters completed = %v, want [1 2]", state.ChaptersCompleted)
	}
	if state.WordCounts[1] != 6 || state.WordCounts[2] != 7 {
		t.Fatalf("word counts = %v, want chapter 1 at 6 and chapter 2 at 7", state.WordCounts)
	}
	if state.ChapterIteration != 0 {
		t.Fatalf("chapter iteration = %d, want reset to 0 for the second chapter", state.ChapterIteration)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t, nil)
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("A chapter written after an interruption.")...)
	h.client.Enqueue(approveReply())

	// Queued before Run starts, the pause lands at the first turn boundary.
	h.orch.Pause()
	h.start(t)

	var paused bool
	for i := 0; i < 100; i++ {
		state, err := h.store.Load()
		if err == nil && state.Paused {
			paused = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !paused {
		t.Fatalf("paused state never persisted")
	}

	h.orch.Resume()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Phase != project.PhaseComplete || state.Paused {
		t.Fatalf("final state = %+v, want unpaused COMPLETE", state)
	}
}

func TestResumeSkipsFinishedPhases(t *testing.T) {
	h := newHarness(t, nil)
	seed := project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit)
	seed.Phase = project.PhaseWriting
	seed.CurrentChapter = 1
	h.seedState(t, seed)

	h.client.Enqueue(chapterReplies("Resumed mid-book, straight into prose.")...)
	h.client.Enqueue(approveReply())

	h.start(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Phase != project.PhaseComplete {
		t.Fatalf("phase = %s, want COMPLETE", state.Phase)
	}
	for _, call := range h.client.Calls() {
		for _, tool := range call.Tools {
			if tool.Function.Name == "write_artifact" {
				t.Fatalf("planning tools offered after resume into WRITING")
			}
		}
	}
}

func TestUnsubmittedTurnGetsNudged(t *testing.T) {
	h := newHarness(t, nil)
	h.seedState(t, project.NewState(h.cfg.Project.Project.ID, 1, h.cfg.Project.Budget.TokenLimit))

	h.client.Enqueue(llmtest.TextReply("Let me think about the structure first."))
	h.client.Enqueue(planReplies()...)
	h.client.Enqueue(approveReply())
	h.client.Enqueue(chapterReplies("The chapter, finally written.")...)
	h.client.Enqueue(approveReply())

	h.start(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := h.client.Calls()
	if len(calls) < 2 {
		t.Fatalf("expected a second architect call, got %d", len(calls))
	}
	second := calls[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "submit_plan") {
		t.Fatalf("nudge missing from follow-up call: %q", last.Content)
	}
}

type failingStore struct{}

func (failingStore) Load() (project.State, error) { return project.State{}, project.ErrStateNotFound }
func (failingStore) Save(project.State) error     { return errors.New("disk full") }

func TestPersistenceFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	if err := config.InitProjectDir(dir); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	router := events.NewRouter()
	sub := router.Subscribe(cfg.Project.Project.ID)
	defer sub.Close()

	orch, err := New(cfg, Deps{
		Store:     failingStore{},
		Artifacts: artifact.NewStore(cfg.PlanningDir(), cfg.ManuscriptDir()),
		Critiques: critique.NewLog(cfg.CritiquesDir()),
		Client:    llmtest.NewClient(),
		Emitter:   events.NewEmitter(cfg.Project.Project.ID, router),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runErr := orch.Run(context.Background())
	if runErr == nil || !strings.Contains(runErr.Error(), "persist state") {
		t.Fatalf("Run = %v, want persistence error", runErr)
	}

	select {
	case ev := <-sub.Events:
		if ev.Type != events.TypeError {
			t.Fatalf("event type = %s, want error", ev.Type)
		}
		var payload events.ErrorPayload
		if err := ev.Decode(&payload); err != nil {
			t.Fatalf("decode error payload: %v", err)
		}
		if !payload.Fatal {
			t.Fatalf("error event not marked fatal")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error event emitted")
	}
}
