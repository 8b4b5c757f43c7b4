// Package openai implements llm.Client against an OpenAI-compatible
// chat-completions endpoint. Responses are consumed as server-sent events
// so prose streams into the monitor as it is generated.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inkhart/inkhart/internal/llm"
)

const (
	defaultBaseURL    = "https://api.moonshot.ai"
	maxErrorBodyBytes = 2048
)

// Option customizes the client.
type Option func(*Client)

// WithBaseURL points the client at a different compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// Client is a minimal streaming chat-completions wrapper.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient builds a client for the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 600 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Tools         []llm.Tool     `json:"tools,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string          `json:"content"`
			ReasoningContent string          `json:"reasoning_content"`
			ToolCalls        []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// StreamChat satisfies llm.Client.
func (c *Client) StreamChat(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, onChunk func(llm.Chunk)) (llm.Response, error) {
	payload := chatRequest{
		Model:         model,
		Messages:      toWireMessages(messages),
		Tools:         tools,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return llm.Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return llm.Response{}, err
	}
	return consumeStream(resp.Body, onChunk)
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return llm.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return llm.ErrRateLimited
	case resp.StatusCode >= 500:
		return llm.ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("chat completion failed: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// consumeStream folds the SSE stream into a single response, forwarding
// deltas to onChunk as they arrive.
func consumeStream(body io.Reader, onChunk func(llm.Chunk)) (llm.Response, error) {
	var (
		content   strings.Builder
		reasoning strings.Builder
		calls     []llm.ToolCall
		out       llm.Response
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return llm.Response{}, fmt.Errorf("malformed stream event: %w", err)
		}
		if chunk.Usage != nil {
			out.Usage = llm.Usage{TokensIn: chunk.Usage.PromptTokens, TokensOut: chunk.Usage.CompletionTokens}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if onChunk != nil {
					onChunk(llm.Chunk{Channel: llm.ChannelContent, Text: choice.Delta.Content})
				}
			}
			if choice.Delta.ReasoningContent != "" {
				reasoning.WriteString(choice.Delta.ReasoningContent)
				if onChunk != nil {
					onChunk(llm.Chunk{Channel: llm.ChannelReasoning, Text: choice.Delta.ReasoningContent})
				}
			}
			for _, delta := range choice.Delta.ToolCalls {
				calls = mergeToolCallDelta(calls, delta)
			}
			if choice.FinishReason != "" {
				out.FinishReason = choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return llm.Response{}, llm.ErrUnavailable
		}
		return llm.Response{}, err
	}

	out.Content = content.String()
	out.Reasoning = reasoning.String()
	out.ToolCalls = calls
	return out, nil
}

// mergeToolCallDelta accumulates streamed tool call fragments by index;
// arguments arrive as partial JSON strings that concatenate in order.
func mergeToolCallDelta(calls []llm.ToolCall, delta toolCallDelta) []llm.ToolCall {
	for delta.Index >= len(calls) {
		calls = append(calls, llm.ToolCall{Type: "function"})
	}
	call := &calls[delta.Index]
	if delta.ID != "" {
		call.ID = delta.ID
	}
	if delta.Type != "" {
		call.Type = delta.Type
	}
	if delta.Function.Name != "" {
		call.Function.Name = delta.Function.Name
	}
	call.Function.Arguments += delta.Function.Arguments
	return calls
}

func toWireMessages(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, chatMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		})
	}
	return out
}
