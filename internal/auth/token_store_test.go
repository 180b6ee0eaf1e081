package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gateway "github.com/ccmux/gateway/internal"
)

func TestTokenStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")

	store, err := NewTokenStore(path)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}

	tok := gateway.OAuthToken{
		ProviderID:   "anthropic",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}
	if err := store.Save(tok); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := NewTokenStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get("anthropic")
	if !ok {
		t.Fatal("expected token present after reload")
	}
	if got.AccessToken != tok.AccessToken || !got.ExpiresAt.Equal(tok.ExpiresAt) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, tok)
	}
}

func TestTokenStoreMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewTokenStore(filepath.Join(dir, "nope", "tokens.json"))
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	if len(store.ListProviderIDs()) != 0 {
		t.Fatal("expected empty store")
	}
}

func TestTokenStoreParseFailureSurfaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := NewTokenStore(path); err == nil {
		t.Fatal("expected parse error to surface")
	}
}

func TestTokenStoreRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	store, err := NewTokenStore(path)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	if err := store.Save(gateway.OAuthToken{ProviderID: "p1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Remove("p1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := store.Get("p1"); ok {
		t.Fatal("expected token removed")
	}
}
