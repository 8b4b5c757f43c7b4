// Package llm defines the completion capability the pipeline consumes. The
// concrete HTTP/SDK client lives outside the core; everything here is the
// wire shape agents build requests from and the stream they consume.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles used when assembling a turn context.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a turn context. Assistant messages may carry tool
// calls; tool messages carry the result for a specific tool call ID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool represents a function tool definition.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function for the model.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and raw JSON arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage reports token consumption for one completed call.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Total returns combined input and output tokens.
func (u Usage) Total() int {
	return u.TokensIn + u.TokensOut
}

// ChunkChannel distinguishes the two streamed output channels.
type ChunkChannel string

const (
	ChannelContent   ChunkChannel = "content"
	ChannelReasoning ChunkChannel = "reasoning"
)

// Chunk is one streamed fragment of model output.
type Chunk struct {
	Channel ChunkChannel
	Text    string
}

// Response contains the model's full response after the stream ends.
type Response struct {
	Content      string     `json:"content"`
	Reasoning    string     `json:"reasoning,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// Client is the injected completion capability. StreamChat delivers output
// fragments through onChunk as they arrive and returns the assembled
// response once the stream terminates with its usage counts.
type Client interface {
	StreamChat(ctx context.Context, model string, messages []Message, tools []Tool, onChunk func(Chunk)) (Response, error)
}
