package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inkhart/inkhart/internal/llm"
)

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range events {
			if _, err := w.Write([]byte("data: " + event + "\n\n")); err != nil {
				return
			}
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
}

func TestStreamChatAssemblesContentAndUsage(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"reasoning_content":"thinking about the opening"}}]}`,
		`{"choices":[{"delta":{"content":"The harbor "}}]}`,
		`{"choices":[{"delta":{"content":"was empty."},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":120,"completion_tokens":8}}`,
	})
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	var chunks []llm.Chunk
	resp, err := client.StreamChat(context.Background(), "kimi-k2", []llm.Message{
		{Role: llm.RoleUser, Content: "write the opening"},
	}, nil, func(c llm.Chunk) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if resp.Content != "The harbor was empty." {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Reasoning != "thinking about the opening" {
		t.Fatalf("reasoning = %q", resp.Reasoning)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.TokensIn != 120 || resp.Usage.TokensOut != 8 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	if chunks[0].Channel != llm.ChannelReasoning || chunks[1].Channel != llm.ChannelContent {
		t.Fatalf("chunk channels = %v %v", chunks[0].Channel, chunks[1].Channel)
	}
}

func TestStreamChatMergesToolCallFragments(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","type":"function","function":{"name":"write_chapter","arguments":"{\"content\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Dawn.\"}"}}]},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.StreamChat(context.Background(), "kimi-k2", nil, nil, nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call-1" || call.Function.Name != "write_chapter" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if call.Function.Arguments != `{"content":"Dawn."}` {
		t.Fatalf("arguments = %q", call.Function.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish reason = %q", resp.FinishReason)
	}
}

func TestStreamChatClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, llm.ErrUnauthorized},
		{http.StatusTooManyRequests, llm.ErrRateLimited},
		{http.StatusInternalServerError, llm.ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewClient("test-key", WithBaseURL(srv.URL))
		_, err := client.StreamChat(context.Background(), "kimi-k2", nil, nil, nil)
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}
