package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/auth"
	"github.com/ccmux/gateway/internal/provider"
	"github.com/ccmux/gateway/internal/router"
	"github.com/ccmux/gateway/internal/testutil"
	"github.com/ccmux/gateway/internal/tokencount"
)

func newOAuthTestHandler(t *testing.T) (http.Handler, *auth.TokenStore) {
	t.Helper()
	store, err := auth.NewTokenStore(filepath.Join(t.TempDir(), "tokens.json"))
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	reg := provider.NewRegistry()
	prov := &testutil.FakeProvider{ProviderName: "fake", ModelList: []string{"claude-x"}}
	reg.Register(prov.Name(), prov, prov.ModelList)
	h := New(Deps{
		Providers:    reg,
		Router:       router.New(router.Config{Default: "claude-x"}),
		TokenCounter: tokencount.NewCounter(),
		OAuth: map[string]*auth.OAuthClient{
			"anthropic": auth.NewOAuthClient(auth.AnthropicOAuthConfig(), store),
		},
		Tokens: store,
	})
	return h, store
}

func TestHandleOAuthAuthorize(t *testing.T) {
	t.Parallel()
	h, _ := newOAuthTestHandler(t)

	body := `{"provider":"anthropic"}`
	req := httptest.NewRequest(http.MethodPost, "/api/oauth/authorize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["url"] == "" || resp["verifier"] == "" {
		t.Fatalf("expected url and verifier, got %v", resp)
	}
	if !strings.Contains(resp["url"], "claude.ai/oauth/authorize") {
		t.Fatalf("unexpected authorize url: %q", resp["url"])
	}
}

func TestHandleOAuthAuthorizeUnknownProvider(t *testing.T) {
	t.Parallel()
	h, _ := newOAuthTestHandler(t)

	body := `{"provider":"nope"}`
	req := httptest.NewRequest(http.MethodPost, "/api/oauth/authorize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleOAuthTokensEmpty(t *testing.T) {
	t.Parallel()
	h, _ := newOAuthTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/oauth/tokens", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string][]oauthTokenSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp["tokens"]) != 0 {
		t.Fatalf("expected no tokens, got %v", resp["tokens"])
	}
}

func TestHandleOAuthTokensListsSavedRecord(t *testing.T) {
	t.Parallel()
	h, store := newOAuthTestHandler(t)

	if err := store.Save(gateway.OAuthToken{
		ProviderID: "anthropic",
		ExpiresAt:  time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/oauth/tokens", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp map[string][]oauthTokenSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp["tokens"]) != 1 || resp["tokens"][0].ProviderID != "anthropic" || resp["tokens"][0].Expired {
		t.Fatalf("unexpected tokens: %v", resp["tokens"])
	}
}

func TestHandleOAuthCreateAPIKeyUnknownProvider(t *testing.T) {
	t.Parallel()
	h, _ := newOAuthTestHandler(t)

	body := `{"provider":"nope"}`
	req := httptest.NewRequest(http.MethodPost, "/api/oauth/create_api_key", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleOAuthCreateAPIKeyMissingToken(t *testing.T) {
	t.Parallel()
	h, _ := newOAuthTestHandler(t)

	body := `{"provider":"anthropic"}`
	req := httptest.NewRequest(http.MethodPost, "/api/oauth/create_api_key", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusBadGateway, rec.Body.String())
	}
}

func TestHandleOAuthDelete(t *testing.T) {
	t.Parallel()
	h, store := newOAuthTestHandler(t)
	if err := store.Save(gateway.OAuthToken{ProviderID: "anthropic", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	body := `{"provider":"anthropic"}`
	req := httptest.NewRequest(http.MethodPost, "/api/oauth/tokens/delete", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if _, ok := store.Get("anthropic"); ok {
		t.Fatalf("expected token to be removed from store")
	}
}
