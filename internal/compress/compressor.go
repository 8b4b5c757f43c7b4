// Package compress shortens a turn history once the token budget trips. The
// system prompt and the most recent turns survive verbatim; everything older
// collapses into one synthesized summary turn.
package compress

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkhart/inkhart/internal/budget"
	"github.com/inkhart/inkhart/internal/llm"
)

const defaultKeepRecent = 3

// ErrSummarize wraps failures of the summarization call itself. Callers
// treat it as non-fatal and continue with the uncompressed history.
var ErrSummarize = fmt.Errorf("compress: summarize call failed")

const summarizerPrompt = `You condense a novel-writing session transcript. Produce a dense
summary the author agents can continue from. Cover, in labeled sections:
STORY FACTS (plot events, settings, established canon), CHARACTER STATE
(who is where, what they want, what changed), STYLE NOTES (voice, tense,
recurring imagery), OPEN THREADS (unresolved beats, pending feedback).
Be concrete. Omit pleasantries and tool mechanics.`

// Compressor rebuilds turn histories under the token budget.
type Compressor struct {
	client     llm.Client
	model      string
	estimate   budget.Estimator
	keepRecent int
}

// Option customizes a Compressor.
type Option func(*Compressor)

// WithKeepRecent overrides how many trailing turns survive verbatim.
func WithKeepRecent(n int) Option {
	return func(c *Compressor) {
		if n > 0 {
			c.keepRecent = n
		}
	}
}

// New builds a compressor around the injected completion client.
func New(client llm.Client, model string, estimate budget.Estimator, opts ...Option) *Compressor {
	c := &Compressor{
		client:     client,
		model:      model,
		estimate:   estimate,
		keepRecent: defaultKeepRecent,
	}
	if c.estimate == nil {
		c.estimate = budget.DefaultEstimator
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress returns a shorter history plus its measured token size. When the
// history is already minimal it is returned unchanged. The leading system
// messages are always retained.
func (c *Compressor) Compress(ctx context.Context, history []llm.Message) ([]llm.Message, int, error) {
	system, rest := splitSystem(history)
	if len(rest) <= c.keepRecent {
		return history, c.EstimateHistory(history), nil
	}
	// The kept window must stay wire-valid: a tool result may not appear
	// without the assistant tool-call message that requested it. Retreat
	// the cut past any tool results so the window opens on their parent.
	cut := len(rest) - c.keepRecent
	for cut > 0 && rest[cut].Role == llm.RoleTool {
		cut--
	}
	if cut == 0 {
		return history, c.EstimateHistory(history), nil
	}
	older := rest[:cut]
	recent := rest[cut:]

	summary, err := c.summarize(ctx, older)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSummarize, err)
	}

	compressed := make([]llm.Message, 0, len(system)+1+len(recent))
	compressed = append(compressed, system...)
	compressed = append(compressed, llm.Message{
		Role:    llm.RoleUser,
		Content: "Summary of the session so far (earlier turns condensed):\n\n" + summary,
	})
	compressed = append(compressed, recent...)
	return compressed, c.EstimateHistory(compressed), nil
}

// EstimateHistory sums the estimator over every message, including tool
// call arguments.
func (c *Compressor) EstimateHistory(history []llm.Message) int {
	total := 0
	for _, msg := range history {
		total += c.estimate(msg.Content)
		for _, call := range msg.ToolCalls {
			total += c.estimate(call.Function.Name) + c.estimate(call.Function.Arguments)
		}
	}
	return total
}

func (c *Compressor) summarize(ctx context.Context, older []llm.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range older {
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.Role, msg.Content)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&transcript, "[%s] called %s\n", msg.Role, call.Function.Name)
		}
	}
	request := []llm.Message{
		{Role: llm.RoleSystem, Content: summarizerPrompt},
		{Role: llm.RoleUser, Content: transcript.String()},
	}
	resp, err := c.client.StreamChat(ctx, c.model, request, nil, nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Content, nil
}

func splitSystem(history []llm.Message) (system, rest []llm.Message) {
	idx := 0
	for idx < len(history) && history[idx].Role == llm.RoleSystem {
		idx++
	}
	return history[:idx], history[idx:]
}
