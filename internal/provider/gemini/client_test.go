package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	gateway "github.com/ccmux/gateway/internal"
)

func TestSendRetriesOn429ThenSucceeds(t *testing.T) {
	t.Parallel()

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1ms"}]}}`))
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1}}`))
	}))
	defer srv.Close()

	c := NewAPIKey("gemini-test", "key-123", srv.URL, nil, []string{"gemini-2.0-pro"})
	resp, err := c.Send(context.Background(), &gateway.ChatRequest{Model: "gemini-2.0-pro", MaxTokens: 10})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly one retry (2 attempts), got %d", attempts)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSendExhaustsRetriesAndSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1ms"}]}}`))
	}))
	defer srv.Close()

	c := NewAPIKey("gemini-test", "key-123", srv.URL, nil, nil)
	_, err := c.Send(context.Background(), &gateway.ChatRequest{Model: "gemini-2.0-pro"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	apiErr, ok := err.(*gateway.APIError)
	if !ok || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected *gateway.APIError 429, got %T: %v", err, err)
	}
}

func TestSendNonRetryableErrorSurfacesImmediately(t *testing.T) {
	t.Parallel()

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := NewAPIKey("gemini-test", "key-123", srv.URL, nil, nil)
	_, err := c.Send(context.Background(), &gateway.ChatRequest{Model: "gemini-2.0-pro"})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected no retry on non-429 error, got %d attempts", attempts)
	}
}
