package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/ccmux/gateway/internal"
)

func TestSendForwardsBodyVerbatimAndDecodesResponse(t *testing.T) {
	t.Parallel()

	var gotPath, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.Header.Get("anthropic-version")
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"hi"}],"model":"claude-x","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c := New("anthropic-test", srv.URL, srv.Client(), []string{"claude-x"})
	resp, err := c.Send(context.Background(), &gateway.ChatRequest{Model: "claude-x", MaxTokens: 10})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/messages" {
		t.Fatalf("expected /messages path, got %q", gotPath)
	}
	if gotVersion != anthropicVersion {
		t.Fatalf("expected anthropic-version header, got %q", gotVersion)
	}
	if resp.ID != "msg_1" || resp.Usage.InputTokens != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSendPropagatesUpstreamAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := New("anthropic-test", srv.URL, srv.Client(), nil)
	_, err := c.Send(context.Background(), &gateway.ChatRequest{Model: "claude-x"})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *gateway.APIError
	if !asAPIError(err, &apiErr) {
		t.Fatalf("expected *gateway.APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestSupportsExactMatchOnly(t *testing.T) {
	t.Parallel()

	c := New("anthropic-test", "", nil, []string{"claude-opus-4-6"})
	if !c.Supports("claude-opus-4-6") {
		t.Fatal("expected exact match to be supported")
	}
	if c.Supports("claude-opus-4-6-preview") {
		t.Fatal("expected no partial match")
	}
}

func asAPIError(err error, target **gateway.APIError) bool {
	apiErr, ok := err.(*gateway.APIError)
	if ok {
		*target = apiErr
	}
	return ok
}
