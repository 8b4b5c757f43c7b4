package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/inkhart/inkhart/internal/events"
	"github.com/inkhart/inkhart/internal/orchestrator"
)

type capturedDecision struct {
	decision orchestrator.Decision
	feedback string
}

type fakeController struct {
	paused    int
	resumed   int
	decisions []capturedDecision
}

func (c *fakeController) Pause()  { c.paused++ }
func (c *fakeController) Resume() { c.resumed++ }
func (c *fakeController) SubmitApproval(d orchestrator.Decision, feedback string) {
	c.decisions = append(c.decisions, capturedDecision{decision: d, feedback: feedback})
}

// collectSink buffers emitted events so tests can replay them into Update.
type collectSink struct {
	events []events.Event
}

func (s *collectSink) Route(ev events.Event) { s.events = append(s.events, ev) }

func newTestMonitor(controller Controller) *Monitor {
	ch := make(chan events.Event)
	return NewMonitor("test-project", controller, events.Subscription{Events: ch})
}

func feed(t *testing.T, m *Monitor, evs ...events.Event) {
	t.Helper()
	for _, ev := range evs {
		updated, _ := m.Update(eventMsg{event: ev, ok: true})
		if updated.(*Monitor) != m {
			t.Fatalf("Update returned a different model")
		}
	}
}

func press(m *Monitor, keys ...tea.KeyMsg) {
	for _, key := range keys {
		m.Update(key)
	}
}

func TestMonitorAppliesPipelineEvents(t *testing.T) {
	sink := &collectSink{}
	em := events.NewEmitter("proj", sink)
	em.PhaseChange("PLANNING", "WRITING")
	em.StreamChunk("content", "The harbor was empty.")
	em.TokenUpdate(50000, 200000)
	em.Progress(60, 1200)

	m := newTestMonitor(&fakeController{})
	feed(t, m, sink.events...)

	view := m.View()
	if !strings.Contains(view, "WRITING") {
		t.Fatalf("view missing phase: %q", view)
	}
	if !strings.Contains(view, "The harbor was empty.") {
		t.Fatalf("view missing streamed prose: %q", view)
	}
	if !strings.Contains(view, "50000/200000") {
		t.Fatalf("view missing token gauge: %q", view)
	}
	if !strings.Contains(view, "60%") {
		t.Fatalf("view missing progress: %q", view)
	}
	if !strings.Contains(view, "1200 words") {
		t.Fatalf("view missing word count: %q", view)
	}
}

func TestCompleteEventFinishesMonitor(t *testing.T) {
	sink := &collectSink{}
	em := events.NewEmitter("proj", sink)
	em.Complete(5, 42000)

	m := newTestMonitor(&fakeController{})
	feed(t, m, sink.events...)

	if !m.done {
		t.Fatalf("monitor not done after complete event")
	}
	if !strings.Contains(m.View(), "5 chapters, 42000 words") {
		t.Fatalf("completion summary missing: %q", m.View())
	}
}

func TestApprovalKeysDriveController(t *testing.T) {
	sink := &collectSink{}
	em := events.NewEmitter("proj", sink)
	em.ApprovalRequired("PLAN", "outline")

	controller := &fakeController{}
	m := newTestMonitor(controller)
	feed(t, m, sink.events...)

	if !strings.Contains(m.View(), "Approval required (PLAN)") {
		t.Fatalf("approval prompt missing: %q", m.View())
	}

	press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if len(controller.decisions) != 1 || controller.decisions[0].decision != orchestrator.DecisionApprove {
		t.Fatalf("approve key did not reach controller: %+v", controller.decisions)
	}
}

func TestRejectCollectsFeedback(t *testing.T) {
	sink := &collectSink{}
	em := events.NewEmitter("proj", sink)
	em.ApprovalRequired("CHAPTER", "chapter_01")

	controller := &fakeController{}
	m := newTestMonitor(controller)
	feed(t, m, sink.events...)

	press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if m.mode != modeFeedback {
		t.Fatalf("x did not enter feedback mode")
	}
	for _, r := range "too slow" {
		press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if len(controller.decisions) != 1 {
		t.Fatalf("expected one decision, got %+v", controller.decisions)
	}
	got := controller.decisions[0]
	if got.decision != orchestrator.DecisionReject || got.feedback != "too slow" {
		t.Fatalf("unexpected decision: %+v", got)
	}
}

func TestPauseAndResumeKeys(t *testing.T) {
	controller := &fakeController{}
	m := newTestMonitor(controller)

	press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	if controller.paused != 1 {
		t.Fatalf("pause key not forwarded")
	}
	press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if controller.resumed != 1 {
		t.Fatalf("resume key not forwarded")
	}
	// Resume is a no-op while an approval decision is pending.
	sink := &collectSink{}
	em := events.NewEmitter("proj", sink)
	em.ApprovalRequired("PLAN", "outline")
	feed(t, m, sink.events...)
	press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if controller.resumed != 1 {
		t.Fatalf("resume forwarded while approval pending")
	}
}

func TestFatalErrorEndsMonitor(t *testing.T) {
	sink := &collectSink{}
	em := events.NewEmitter("proj", sink)
	em.Error("persist state: disk full", true)

	m := newTestMonitor(&fakeController{})
	feed(t, m, sink.events...)

	if !m.done {
		t.Fatalf("monitor still running after fatal error")
	}
	if !strings.Contains(m.View(), "disk full") {
		t.Fatalf("error message missing: %q", m.View())
	}
}
