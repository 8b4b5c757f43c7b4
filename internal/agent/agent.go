// Package agent runs one role-bound model turn: build the context, stream
// the completion, dispatch any tool calls, and repeat until the model stops
// calling tools or a terminal submit fires. The agent never touches project
// state; everything it changes goes through the tool dispatcher.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/inkhart/inkhart/internal/budget"
	"github.com/inkhart/inkhart/internal/compress"
	"github.com/inkhart/inkhart/internal/events"
	"github.com/inkhart/inkhart/internal/llm"
	"github.com/inkhart/inkhart/internal/logbook"
	"github.com/inkhart/inkhart/internal/project"
	"github.com/inkhart/inkhart/internal/tooling"
)

const (
	defaultMaxCycles     = 300
	retryMaxAttempts     = 5
	retryBaseDelay       = 2 * time.Second
	retryMaxDelay        = 60 * time.Second
	toolResultEventLimit = 400
)

// ErrCycleCap signals a runaway turn that kept dispatching tools past the
// configured bound.
var ErrCycleCap = errors.New("agent: turn cycle cap reached")

// Config wires an agent's collaborators.
type Config struct {
	Role         string
	SystemPrompt string
	Model        string
	Client       llm.Client
	Dispatcher   *tooling.Dispatcher
	Tracker      *budget.Tracker
	Compressor   *compress.Compressor
	Emitter      *events.Emitter
	Limiter      *semaphore.Weighted
	Journal      *logbook.Journal
	MaxCycles    int
}

// Option customizes an Agent.
type Option func(*Agent)

// WithSleep overrides the backoff sleeper (tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(a *Agent) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

// Agent is a role-bound model-calling unit.
type Agent struct {
	role       string
	system     string
	model      string
	client     llm.Client
	dispatcher *tooling.Dispatcher
	tracker    *budget.Tracker
	compressor *compress.Compressor
	emitter    *events.Emitter
	limiter    *semaphore.Weighted
	journal    *logbook.Journal
	maxCycles  int
	sleep      func(context.Context, time.Duration) error
}

// New builds an agent from its configuration.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("agent: completion client is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("agent: tool dispatcher is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("agent: budget tracker is required")
	}
	a := &Agent{
		role:       cfg.Role,
		system:     cfg.SystemPrompt,
		model:      cfg.Model,
		client:     cfg.Client,
		dispatcher: cfg.Dispatcher,
		tracker:    cfg.Tracker,
		compressor: cfg.Compressor,
		emitter:    cfg.Emitter,
		limiter:    cfg.Limiter,
		journal:    cfg.Journal,
		maxCycles:  cfg.MaxCycles,
		sleep:      sleepWithContext,
	}
	if a.maxCycles <= 0 {
		a.maxCycles = defaultMaxCycles
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Role returns the agent's role identifier.
func (a *Agent) Role() string {
	return a.role
}

// TurnRequest is the input for one turn.
type TurnRequest struct {
	History   []llm.Message
	Phase     project.Phase
	Chapter   int
	Iteration int
}

// TurnResult carries the updated history and accumulated tool effects.
type TurnResult struct {
	History []llm.Message
	Effects tooling.Effects
	Content string
}

// RunTurn drives the send/stream/dispatch cycle until the turn is terminal.
// The returned history excludes the system prompt, which is reattached on
// every send.
func (a *Agent) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	history := append([]llm.Message(nil), req.History...)
	effects := tooling.Effects{}
	tools := a.dispatcher.Definitions(req.Phase)

	for cycle := 0; ; cycle++ {
		if cycle >= a.maxCycles {
			return TurnResult{}, fmt.Errorf("%w after %d cycles (%s)", ErrCycleCap, cycle, a.role)
		}

		history = a.maybeCompress(ctx, history)

		resp, err := a.call(ctx, a.withSystem(history), tools)
		if err != nil {
			return TurnResult{}, err
		}
		a.tracker.Record(resp.Usage.Total())
		if a.emitter != nil {
			a.emitter.TokenUpdate(a.tracker.Count(), a.tracker.Limit())
		}

		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return TurnResult{History: history, Effects: effects, Content: resp.Content}, nil
		}

		terminal := false
		for _, tc := range resp.ToolCalls {
			if a.emitter != nil {
				a.emitter.ToolCall(tc.Function.Name, json.RawMessage(tc.Function.Arguments))
			}
			res := a.dispatcher.Dispatch(tooling.Call{
				Name:      tc.Function.Name,
				Args:      json.RawMessage(tc.Function.Arguments),
				Phase:     req.Phase,
				Chapter:   req.Chapter,
				Iteration: req.Iteration,
			}, &effects)
			if a.emitter != nil {
				a.emitter.ToolResult(res.Name, truncate(res.Content, toolResultEventLimit), res.IsErr)
			}
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    res.Content,
				ToolCallID: tc.ID,
			})
			if res.Terminal && !res.IsErr {
				terminal = true
			}
		}
		if terminal {
			return TurnResult{History: history, Effects: effects, Content: resp.Content}, nil
		}
	}
}

// maybeCompress shortens the history when the budget trips. Compression
// failure is logged and the turn proceeds uncompressed.
func (a *Agent) maybeCompress(ctx context.Context, history []llm.Message) []llm.Message {
	if a.compressor == nil || !a.tracker.ExceedsThreshold() {
		return history
	}
	compressed, size, err := a.compressor.Compress(ctx, a.withSystem(history))
	if err != nil {
		if a.journal != nil {
			a.journal.Warn("compression failed for %s, continuing uncompressed: %v", a.role, err)
		}
		return history
	}
	a.tracker.Reset(size)
	if a.emitter != nil {
		a.emitter.TokenUpdate(a.tracker.Count(), a.tracker.Limit())
	}
	if a.journal != nil {
		a.journal.Info("compressed context for %s to ~%d tokens", a.role, size)
	}
	return stripSystem(compressed)
}

// call streams one completion, retrying transient failures with exponential
// backoff. The shared limiter bounds concurrent in-flight calls across all
// projects.
func (a *Agent) call(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.Response, error) {
	onChunk := func(chunk llm.Chunk) {
		if a.emitter != nil {
			a.emitter.StreamChunk(string(chunk.Channel), chunk.Text)
		}
	}
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, backoffDelay(attempt)); err != nil {
				return llm.Response{}, err
			}
		}
		resp, err := a.streamOnce(ctx, messages, tools, onChunk)
		if err == nil {
			return resp, nil
		}
		if !llm.IsTransient(err) {
			return llm.Response{}, fmt.Errorf("agent %s: model call failed: %w", a.role, err)
		}
		lastErr = err
		if a.journal != nil {
			a.journal.Warn("transient model failure for %s (attempt %d/%d): %v", a.role, attempt+1, retryMaxAttempts, err)
		}
	}
	return llm.Response{}, fmt.Errorf("agent %s: model call failed after %d attempts: %w", a.role, retryMaxAttempts, lastErr)
}

func (a *Agent) streamOnce(ctx context.Context, messages []llm.Message, tools []llm.Tool, onChunk func(llm.Chunk)) (llm.Response, error) {
	if a.limiter != nil {
		if err := a.limiter.Acquire(ctx, 1); err != nil {
			return llm.Response{}, err
		}
		defer a.limiter.Release(1)
	}
	return a.client.StreamChat(ctx, a.model, messages, tools, onChunk)
}

func (a *Agent) withSystem(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: a.system})
	return append(out, history...)
}

func stripSystem(history []llm.Message) []llm.Message {
	idx := 0
	for idx < len(history) && history[idx].Role == llm.RoleSystem {
		idx++
	}
	return history[idx:]
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
