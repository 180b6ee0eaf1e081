package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccmux/gateway/internal/testutil"
)

func TestHandleListModelsSorted(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &testutil.FakeProvider{ProviderName: "fake", ModelList: []string{"claude-y", "claude-x"}})

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp modelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 2 || resp.Models[0] != "claude-x" || resp.Models[1] != "claude-y" {
		t.Fatalf("expected sorted models, got %v", resp.Models)
	}
}

func TestHandleListProviders(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &testutil.FakeProvider{ProviderName: "fake", ModelList: []string{"claude-x"}})

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp providerListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Providers) != 1 || resp.Providers[0] != "fake" {
		t.Fatalf("unexpected providers: %v", resp.Providers)
	}
}
