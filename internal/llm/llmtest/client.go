// Package llmtest provides a scripted completion client for tests. Replies
// are consumed in order; a dynamic hook can override the queue for tests
// that need to react to the request contents.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/inkhart/inkhart/internal/llm"
)

// Call records one StreamChat invocation for later assertions.
type Call struct {
	Model    string
	Messages []llm.Message
	Tools    []llm.Tool
}

// Reply scripts one StreamChat result.
type Reply struct {
	Chunks   []llm.Chunk
	Response llm.Response
	Err      error
}

// Client is a scripted llm.Client.
type Client struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call

	// Respond, when set, is consulted before the scripted queue.
	Respond func(call Call) (Reply, bool)
}

// NewClient builds a client preloaded with the given replies.
func NewClient(replies ...Reply) *Client {
	return &Client{replies: replies}
}

// Enqueue appends replies to the script.
func (c *Client) Enqueue(replies ...Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, replies...)
}

// Calls returns a copy of all recorded invocations.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// StreamChat satisfies llm.Client.
func (c *Client) StreamChat(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, onChunk func(llm.Chunk)) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	call := Call{Model: model, Messages: append([]llm.Message(nil), messages...), Tools: append([]llm.Tool(nil), tools...)}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	var reply Reply
	var ok bool
	if c.Respond != nil {
		reply, ok = c.Respond(call)
	}
	if !ok {
		if len(c.replies) == 0 {
			c.mu.Unlock()
			return llm.Response{}, fmt.Errorf("llmtest: script exhausted after %d calls", len(c.calls))
		}
		reply = c.replies[0]
		c.replies = c.replies[1:]
	}
	c.mu.Unlock()

	if reply.Err != nil {
		return llm.Response{}, reply.Err
	}
	if onChunk != nil {
		for _, chunk := range reply.Chunks {
			onChunk(chunk)
		}
	}
	return reply.Response, nil
}

// TextReply scripts a plain streamed text response with no tool calls.
func TextReply(text string) Reply {
	return Reply{
		Chunks: []llm.Chunk{{Channel: llm.ChannelContent, Text: text}},
		Response: llm.Response{
			Content:      text,
			FinishReason: "stop",
			Usage:        llm.Usage{TokensIn: 50, TokensOut: estimate(text)},
		},
	}
}

// ToolCallReply scripts a response requesting a single tool call.
func ToolCallReply(name, arguments string) Reply {
	return Reply{
		Response: llm.Response{
			ToolCalls: []llm.ToolCall{{
				ID:       fmt.Sprintf("call-%s", name),
				Type:     "function",
				Function: llm.ToolCallFunction{Name: name, Arguments: arguments},
			}},
			FinishReason: "tool_calls",
			Usage:        llm.Usage{TokensIn: 50, TokensOut: 20},
		},
	}
}

// ErrReply scripts a failed call.
func ErrReply(err error) Reply {
	return Reply{Err: err}
}

func estimate(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
