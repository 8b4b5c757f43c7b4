// Package tui renders the live authoring monitor. It follows The Elm
// Architecture via bubbletea: events from the pipeline arrive as messages,
// Update folds them into the model, View draws the screen. The monitor is
// read-mostly; the only state it mutates lives behind the Controller.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/inkhart/inkhart/internal/events"
	"github.com/inkhart/inkhart/internal/orchestrator"
)

const (
	gaugeWidth         = 24
	transcriptCapLines = 2000
)

var (
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	phaseStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	pausedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	approvalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// Controller is the slice of the orchestrator the monitor drives.
type Controller interface {
	Pause()
	Resume()
	SubmitApproval(decision orchestrator.Decision, feedback string)
}

type inputMode int

const (
	modeWatch inputMode = iota
	modeFeedback
)

type eventMsg struct {
	event events.Event
	ok    bool
}

// Monitor is the bubbletea model for a running project.
type Monitor struct {
	title      string
	controller Controller
	sub        events.Subscription

	phase      string
	progress   float64
	words      int
	tokenCount int
	tokenLimit int
	paused     bool
	pending    string
	done       bool
	lastErr    string

	mode     inputMode
	feedback textinput.Model
	spin     spinner.Model
	body     viewport.Model
	lines    []string
	ready    bool
	width    int
	height   int
}

// NewMonitor builds the monitor for one project's event stream.
func NewMonitor(title string, controller Controller, sub events.Subscription) *Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	input := textinput.New()
	input.Placeholder = "why are you rejecting this?"
	input.CharLimit = 500
	return &Monitor{
		title:      title,
		controller: controller,
		sub:        sub,
		phase:      "PLANNING",
		spin:       sp,
		feedback:   input,
	}
}

// Run drives the monitor to completion in the alternate screen.
func Run(m *Monitor) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.nextEvent())
}

// nextEvent blocks on the subscription and feeds the next pipeline event
// back into Update.
func (m *Monitor) nextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.sub.Events
		return eventMsg{event: ev, ok: ok}
	}
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyHeight := msg.Height - 7
		if bodyHeight < 3 {
			bodyHeight = 3
		}
		if !m.ready {
			m.body = viewport.New(msg.Width, bodyHeight)
			m.ready = true
		} else {
			m.body.Width = msg.Width
			m.body.Height = bodyHeight
		}
		m.refreshBody()
		return m, nil

	case eventMsg:
		if !msg.ok {
			m.done = true
			return m, nil
		}
		m.apply(msg.event)
		return m, m.nextEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeFeedback {
		switch msg.Type {
		case tea.KeyEnter:
			m.controller.SubmitApproval(orchestrator.DecisionReject, m.feedback.Value())
			m.pending = ""
			m.mode = modeWatch
			m.feedback.Reset()
			m.feedback.Blur()
			return m, nil
		case tea.KeyEsc:
			m.mode = modeWatch
			m.feedback.Reset()
			m.feedback.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.feedback, cmd = m.feedback.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "p":
		if m.controller != nil && !m.paused {
			m.controller.Pause()
			m.paused = true
		}
	case "r":
		if m.controller != nil && m.paused && m.pending == "" {
			m.controller.Resume()
			m.paused = false
		}
	case "a":
		if m.controller != nil && m.pending != "" {
			m.controller.SubmitApproval(orchestrator.DecisionApprove, "")
			m.pending = ""
			m.paused = false
		}
	case "x":
		if m.controller != nil && m.pending != "" {
			m.mode = modeFeedback
			m.feedback.Focus()
			return m, textinput.Blink
		}
	}
	return m, nil
}

// apply folds one pipeline event into the model.
func (m *Monitor) apply(ev events.Event) {
	switch ev.Type {
	case events.TypePhaseChange:
		var p events.PhaseChangePayload
		if ev.Decode(&p) == nil {
			m.phase = p.To
			m.appendLine(phaseStyle.Render("── " + p.To + " ──"))
		}
	case events.TypeStreamChunk:
		var p events.StreamChunkPayload
		if ev.Decode(&p) == nil {
			text := p.Text
			if p.Channel == "reasoning" {
				text = reasoningStyle.Render(text)
			}
			m.appendText(text)
		}
	case events.TypeToolCall:
		var p events.ToolCallPayload
		if ev.Decode(&p) == nil {
			m.appendLine(toolStyle.Render("⚙ " + p.Name))
		}
	case events.TypeToolResult:
		var p events.ToolResultPayload
		if ev.Decode(&p) == nil && p.IsErr {
			m.appendLine(errStyle.Render("⚙ " + p.Name + ": " + p.Result))
		}
	case events.TypeTokenUpdate:
		var p events.TokenUpdatePayload
		if ev.Decode(&p) == nil {
			m.tokenCount = p.Count
			m.tokenLimit = p.Limit
		}
	case events.TypeApprovalRequired:
		var p events.ApprovalRequiredPayload
		if ev.Decode(&p) == nil {
			m.pending = p.Kind
			m.paused = true
		}
	case events.TypeProgress:
		var p events.ProgressPayload
		if ev.Decode(&p) == nil {
			m.progress = p.Percentage
			m.words = p.Words
		}
	case events.TypeComplete:
		var p events.CompletePayload
		if ev.Decode(&p) == nil {
			m.done = true
			m.progress = 100
			m.appendLine(titleStyle.Render(fmt.Sprintf("✓ Manuscript complete: %d chapters, %d words", p.Chapters, p.TotalWords)))
		}
	case events.TypeError:
		var p events.ErrorPayload
		if ev.Decode(&p) == nil {
			m.lastErr = p.Message
			m.appendLine(errStyle.Render("✗ " + p.Message))
			if p.Fatal {
				m.done = true
			}
		}
	}
}

// appendText accumulates streamed prose, splitting only on newlines so
// chunks join into flowing lines.
func (m *Monitor) appendText(text string) {
	parts := strings.Split(text, "\n")
	if len(m.lines) == 0 {
		m.lines = append(m.lines, "")
	}
	m.lines[len(m.lines)-1] += parts[0]
	for _, part := range parts[1:] {
		m.lines = append(m.lines, part)
	}
	m.trimAndRefresh()
}

func (m *Monitor) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.trimAndRefresh()
}

func (m *Monitor) trimAndRefresh() {
	if len(m.lines) > transcriptCapLines {
		m.lines = m.lines[len(m.lines)-transcriptCapLines:]
	}
	m.refreshBody()
}

func (m *Monitor) refreshBody() {
	if !m.ready {
		return
	}
	m.body.SetContent(strings.Join(m.lines, "\n"))
	m.body.GotoBottom()
}

func (m *Monitor) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("✒ INKHART") + "  " + m.title + "\n")
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(m.tokenGauge() + "\n\n")

	if m.ready {
		b.WriteString(m.body.View() + "\n")
	} else {
		b.WriteString(strings.Join(m.lines, "\n") + "\n")
	}

	switch {
	case m.mode == modeFeedback:
		b.WriteString(approvalStyle.Render("Rejection feedback: ") + m.feedback.View() + "\n")
		b.WriteString(hintStyle.Render("enter=send  esc=cancel"))
	case m.pending != "":
		b.WriteString(approvalStyle.Render(fmt.Sprintf("Approval required (%s)", m.pending)) + "\n")
		b.WriteString(hintStyle.Render("a=approve  x=reject with feedback  q=quit"))
	case m.done:
		b.WriteString(hintStyle.Render("q=quit"))
	default:
		b.WriteString(hintStyle.Render("p=pause  r=resume  q=quit"))
	}
	return b.String()
}

func (m *Monitor) statusLine() string {
	status := m.spin.View() + " writing"
	if m.paused {
		status = pausedStyle.Render("⏸ paused")
	}
	if m.done {
		status = "done"
	}
	line := fmt.Sprintf("%s · phase %s · %.0f%%", status, phaseStyle.Render(m.phase), m.progress)
	if m.words > 0 {
		line += fmt.Sprintf(" · %d words", m.words)
	}
	return line
}

// tokenGauge renders the context budget as a fixed-width bar.
func (m *Monitor) tokenGauge() string {
	if m.tokenLimit <= 0 {
		return hintStyle.Render("tokens: -")
	}
	ratio := float64(m.tokenCount) / float64(m.tokenLimit)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * gaugeWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", gaugeWidth-filled)
	return fmt.Sprintf("tokens %s %d/%d", bar, m.tokenCount, m.tokenLimit)
}
