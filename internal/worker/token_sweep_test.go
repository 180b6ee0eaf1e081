package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/auth"
)

func TestTokenSweeperRemovesDeadTokens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	store, err := auth.NewTokenStore(path)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}

	if err := store.Save(gateway.OAuthToken{ProviderID: "dead", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("Save dead: %v", err)
	}
	if err := store.Save(gateway.OAuthToken{ProviderID: "alive", ExpiresAt: time.Now().Add(-time.Hour), RefreshToken: "r"}); err != nil {
		t.Fatalf("Save alive: %v", err)
	}

	w := NewTokenSweeper(store, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	if _, ok := store.Get("dead"); ok {
		t.Error("expected dead token removed")
	}
	if _, ok := store.Get("alive"); !ok {
		t.Error("expected token with refresh token preserved")
	}
}

func TestTokenSweeperName(t *testing.T) {
	t.Parallel()
	w := NewTokenSweeper(nil, time.Hour)
	if w.Name() != "token_sweep" {
		t.Errorf("Name() = %q", w.Name())
	}
}
