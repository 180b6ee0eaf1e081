package openai

import (
	"encoding/json"
	"strings"
	"testing"

	gateway "github.com/ccmux/gateway/internal"
)

func TestTranslateRequestFlattensSystemAndTools(t *testing.T) {
	t.Parallel()

	req := &gateway.ChatRequest{
		Model:     "gpt-4o",
		MaxTokens: 512,
		System:    &gateway.SystemPrompt{Text: "be helpful"},
		Messages: []gateway.Message{
			{Role: "user", Content: gateway.MessageContent{Text: "hello"}},
		},
		Tools: []gateway.Tool{
			{Name: "get_weather", Description: "fetch weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}

	out, err := translateRequest(req)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].Role != "system" || out.Messages[0].Content.Text != "be helpful" {
		t.Fatalf("expected leading system message, got %+v", out.Messages)
	}
	if len(out.Tools) != 1 || out.Tools[0].Function.Name != "get_weather" {
		t.Fatalf("expected tool translated, got %+v", out.Tools)
	}
}

func TestTranslateMessageSplitsToolResultIntoOwnMessage(t *testing.T) {
	t.Parallel()

	msg := gateway.Message{
		Role: "user",
		Content: gateway.MessageContent{Blocks: []gateway.ContentBlock{
			{Type: "tool_result", ToolUseID: "call_1", Content: json.RawMessage(`"42 degrees"`)},
		}},
	}

	out, err := translateMessage(msg)
	if err != nil {
		t.Fatalf("translateMessage: %v", err)
	}
	if len(out) != 1 || out[0].Role != "tool" || out[0].ToolCallID != "call_1" {
		t.Fatalf("expected single tool message, got %+v", out)
	}
	if out[0].Content.Text != "42 degrees" {
		t.Fatalf("expected unquoted string content, got %q", out[0].Content.Text)
	}
}

func TestTranslateMessageToolUseBecomesToolCalls(t *testing.T) {
	t.Parallel()

	msg := gateway.Message{
		Role: "assistant",
		Content: gateway.MessageContent{Blocks: []gateway.ContentBlock{
			{Type: "text", Text: "let me check"},
			{Type: "tool_use", ID: "call_1", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
		}},
	}

	out, err := translateMessage(msg)
	if err != nil {
		t.Fatalf("translateMessage: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected single assistant message, got %+v", out)
	}
	if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("expected tool call, got %+v", out[0].ToolCalls)
	}
	if out[0].Content == nil || out[0].Content.Text != "let me check" {
		t.Fatalf("expected text preserved alongside tool call")
	}
}

func TestTranslateMessageImageBecomesImageURLPart(t *testing.T) {
	t.Parallel()

	msg := gateway.Message{
		Role: "user",
		Content: gateway.MessageContent{Blocks: []gateway.ContentBlock{
			{Type: "text", Text: "what is this?"},
			{Type: "image", Source: &gateway.ImageSource{Type: "base64", MediaType: "image/png", Data: "Zm9v"}},
		}},
	}

	out, err := translateMessage(msg)
	if err != nil {
		t.Fatalf("translateMessage: %v", err)
	}
	if len(out) != 1 || out[0].Content == nil {
		t.Fatalf("expected single message with content, got %+v", out)
	}
	parts := out[0].Content.Parts
	if len(parts) != 2 || parts[0].Type != "text" || parts[0].Text != "what is this?" {
		t.Fatalf("expected leading text part, got %+v", parts)
	}
	if parts[1].Type != "image_url" || parts[1].ImageURL == nil {
		t.Fatalf("expected image_url part, got %+v", parts[1])
	}
	wantURL := "data:image/png;base64,Zm9v"
	if parts[1].ImageURL.URL != wantURL {
		t.Fatalf("image_url = %q, want %q", parts[1].ImageURL.URL, wantURL)
	}

	encoded, err := json.Marshal(out[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"type":"image_url"`) {
		t.Fatalf("expected marshaled content to carry image_url part, got %s", encoded)
	}
}

func TestTranslateMessageURLImage(t *testing.T) {
	t.Parallel()

	msg := gateway.Message{
		Role: "user",
		Content: gateway.MessageContent{Blocks: []gateway.ContentBlock{
			{Type: "image", Source: &gateway.ImageSource{Type: "url", URL: "https://example.com/cat.png"}},
		}},
	}

	out, err := translateMessage(msg)
	if err != nil {
		t.Fatalf("translateMessage: %v", err)
	}
	parts := out[0].Content.Parts
	if len(parts) != 1 || parts[0].ImageURL.URL != "https://example.com/cat.png" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
}

func TestTranslateResponseCarriesFinishReasonVerbatim(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o",
		"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 3}
	}`)

	resp, err := translateResponse(body)
	if err != nil {
		t.Fatalf("translateResponse: %v", err)
	}
	if resp.StopReason == nil || *resp.StopReason != "stop" {
		t.Fatalf("expected finish_reason passed through verbatim, got %v", resp.StopReason)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 3 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi there" {
		t.Fatalf("unexpected content: %+v", resp.Content)
	}
}

func TestTranslateResponseToolCalls(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"id": "chatcmpl-2",
		"model": "gpt-4o",
		"choices": [{"message": {"content": "", "tool_calls": [{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"nyc\"}"}}]}, "finish_reason": "tool_calls"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 4}
	}`)

	resp, err := translateResponse(body)
	if err != nil {
		t.Fatalf("translateResponse: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "tool_use" || resp.Content[0].Name != "get_weather" {
		t.Fatalf("unexpected content: %+v", resp.Content)
	}
}

func TestTranslateResponseNoChoicesIsParseError(t *testing.T) {
	t.Parallel()

	_, err := translateResponse([]byte(`{"id":"x","choices":[]}`))
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
