// Package events is the push-only sink the orchestrator publishes lifecycle
// notifications into. Subscribers (the terminal monitor, external bridges)
// receive ordered per-project events and never mutate pipeline state.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the published event kinds.
type Type string

const (
	TypePhaseChange      Type = "phase_change"
	TypeStreamChunk      Type = "stream_chunk"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeTokenUpdate      Type = "token_update"
	TypeApprovalRequired Type = "approval_required"
	TypeProgress         Type = "progress"
	TypeComplete         Type = "complete"
	TypeError            Type = "error"
)

// Event is a single notification for one project.
type Event struct {
	EventID   string          `json:"event_id"`
	Sequence  int64           `json:"sequence"`
	Type      Type            `json:"type"`
	ProjectID string          `json:"project_id"`
	Time      time.Time       `json:"time"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate enforces baseline schema requirements.
func (e Event) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if e.ProjectID == "" {
		return errors.New("project_id is required")
	}
	return nil
}

// Decode unmarshals the payload into the given shape.
func (e Event) Decode(into any) error {
	return json.Unmarshal(e.Payload, into)
}

// Payload shapes, one per event type.

type PhaseChangePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type StreamChunkPayload struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type ToolCallPayload struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type ToolResultPayload struct {
	Name   string `json:"name"`
	Result string `json:"result"`
	IsErr  bool   `json:"is_err,omitempty"`
}

type TokenUpdatePayload struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

type ApprovalRequiredPayload struct {
	Kind       string `json:"kind"`
	PayloadRef string `json:"payload_ref"`
}

type ProgressPayload struct {
	Percentage float64 `json:"percentage"`
	Words      int     `json:"words,omitempty"`
}

type CompletePayload struct {
	Chapters   int `json:"chapters"`
	TotalWords int `json:"total_words"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// Sink consumes published events. *Router satisfies it.
type Sink interface {
	Route(Event)
}

// Emitter mints ordered events for one project and pushes them into a sink.
type Emitter struct {
	projectID string
	sink      Sink
	seq       atomic.Int64
	now       func() time.Time
}

// NewEmitter builds an emitter for a project. A nil sink discards events.
func NewEmitter(projectID string, sink Sink) *Emitter {
	return &Emitter{projectID: projectID, sink: sink, now: time.Now}
}

func (em *Emitter) emit(kind Type, payload any) {
	if em == nil || em.sink == nil {
		return
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(fmt.Sprintf(`{"encode_error":%q}`, err.Error()))
	}
	em.sink.Route(Event{
		EventID:   uuid.NewString(),
		Sequence:  em.seq.Add(1),
		Type:      kind,
		ProjectID: em.projectID,
		Time:      em.now().UTC(),
		Payload:   encoded,
	})
}

// PhaseChange publishes a phase transition.
func (em *Emitter) PhaseChange(from, to string) {
	em.emit(TypePhaseChange, PhaseChangePayload{From: from, To: to})
}

// StreamChunk publishes one streamed model output fragment.
func (em *Emitter) StreamChunk(channel, text string) {
	em.emit(TypeStreamChunk, StreamChunkPayload{Channel: channel, Text: text})
}

// ToolCall publishes a model-requested tool invocation.
func (em *Emitter) ToolCall(name string, args json.RawMessage) {
	em.emit(TypeToolCall, ToolCallPayload{Name: name, Args: args})
}

// ToolResult publishes the outcome of a dispatched tool.
func (em *Emitter) ToolResult(name, result string, isErr bool) {
	em.emit(TypeToolResult, ToolResultPayload{Name: name, Result: result, IsErr: isErr})
}

// TokenUpdate publishes the current budget reading.
func (em *Emitter) TokenUpdate(count, limit int) {
	em.emit(TypeTokenUpdate, TokenUpdatePayload{Count: count, Limit: limit})
}

// ApprovalRequired publishes a pending human decision.
func (em *Emitter) ApprovalRequired(kind, payloadRef string) {
	em.emit(TypeApprovalRequired, ApprovalRequiredPayload{Kind: kind, PayloadRef: payloadRef})
}

// Progress publishes overall completion.
func (em *Emitter) Progress(percentage float64, words int) {
	em.emit(TypeProgress, ProgressPayload{Percentage: percentage, Words: words})
}

// Complete publishes final run statistics.
func (em *Emitter) Complete(chapters, totalWords int) {
	em.emit(TypeComplete, CompletePayload{Chapters: chapters, TotalWords: totalWords})
}

// Error publishes a failure notification.
func (em *Emitter) Error(message string, fatal bool) {
	em.emit(TypeError, ErrorPayload{Message: message, Fatal: fatal})
}

// Logger records sink diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

func normalizeProject(projectID string) string {
	return strings.TrimSpace(projectID)
}
