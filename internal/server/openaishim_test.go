package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/testutil"
)

func TestHandleChatCompletionsShimUnary(t *testing.T) {
	t.Parallel()
	prov := &testutil.FakeProvider{
		ProviderName: "fake",
		ModelList:    []string{"claude-x"},
		SendFn: func(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
			if req.System == nil || req.System.Text != "be terse" {
				t.Errorf("expected system prompt carried through, got %+v", req.System)
			}
			if len(req.Messages) != 1 || req.Messages[0].Content.Text != "hello" {
				t.Errorf("expected one user message, got %+v", req.Messages)
			}
			stop := "stop"
			return &gateway.ChatResponse{
				ID:         "msg-1",
				Model:      req.Model,
				Content:    []gateway.ContentBlock{{Type: "text", Text: "hi there"}},
				StopReason: &stop,
				Usage:      gateway.Usage{InputTokens: 5, OutputTokens: 2},
			}, nil
		},
	}
	h := newTestHandler(t, prov)

	body := `{"model":"claude-x","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp shimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "chat.completion" || len(resp.Choices) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Choices[0].Message.Content != "hi there" {
		t.Fatalf("unexpected content: %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestHandleChatCompletionsShimStreaming(t *testing.T) {
	t.Parallel()
	const frame1 = "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hel\"}}\n\n"
	const frame2 = "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n"
	const pingFrame = "event: ping\ndata: {\"type\":\"ping\"}\n\n"

	prov := &testutil.FakeProvider{
		ProviderName: "fake",
		ModelList:    []string{"claude-x"},
		StreamFn: func(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
			return testutil.FakeStreamChan(
				gateway.StreamChunk{Data: []byte(pingFrame)},
				gateway.StreamChunk{Data: []byte(frame1)},
				gateway.StreamChunk{Data: []byte(frame2)},
			), nil
		},
	}
	h := newTestHandler(t, prov)

	body := `{"model":"claude-x","messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"content":"hel"`) || !strings.Contains(out, `"content":"lo"`) {
		t.Fatalf("expected both text deltas forwarded, got: %s", out)
	}
	if strings.Contains(out, `"type":"ping"`) {
		t.Fatalf("expected ping event to be dropped, got: %s", out)
	}
	if !strings.Contains(out, "chat.completion.chunk") {
		t.Fatalf("expected chat.completion.chunk object, got: %s", out)
	}
	if !strings.HasSuffix(strings.TrimRight(out, "\n"), "data: [DONE]") {
		t.Fatalf("expected stream to end with [DONE], got: %s", out)
	}
}

func TestExtractTextDeltaIgnoresNonDeltaEvents(t *testing.T) {
	t.Parallel()
	frame := []byte("event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
	if _, ok := extractTextDelta(frame); ok {
		t.Fatalf("expected message_start frame to be ignored")
	}
}

func TestExtractTextDeltaParsesTextDelta(t *testing.T) {
	t.Parallel()
	frame := []byte("event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
	text, ok := extractTextDelta(frame)
	if !ok || text != "hi" {
		t.Fatalf("extractTextDelta = (%q, %v), want (\"hi\", true)", text, ok)
	}
}
