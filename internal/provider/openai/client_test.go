package openai

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/ccmux/gateway/internal"
)

func TestSendTranslatesRequestAndResponse(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	c := New("openai-test", "sk-test", srv.URL, nil, []string{"gpt-4o"})
	resp, err := c.Send(context.Background(), &gateway.ChatRequest{
		Model:     "gpt-4o",
		MaxTokens: 100,
		Messages:  []gateway.Message{{Role: "user", Content: gateway.MessageContent{Text: "hello"}}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestStreamTranslatesDeltasIntoAnthropicSSE(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New("openai-test", "sk-test", srv.URL, nil, nil)
	ch, err := c.Stream(context.Background(), &gateway.ChatRequest{
		Model:    "gpt-4o",
		Messages: []gateway.Message{{Role: "user", Content: gateway.MessageContent{Text: "hi"}}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var events []string
	var sawDone bool
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		if chunk.Done {
			sawDone = true
			continue
		}
		scanner := bufio.NewScanner(strings.NewReader(string(chunk.Data)))
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event: ") {
				events = append(events, strings.TrimPrefix(line, "event: "))
			}
		}
	}
	if !sawDone {
		t.Fatal("expected Done sentinel")
	}
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	for i, e := range want {
		if events[i] != e {
			t.Fatalf("expected event[%d]=%q, got %q (all: %v)", i, e, events[i], events)
		}
	}
}
