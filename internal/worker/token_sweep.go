package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/ccmux/gateway/internal/auth"
)

// TokenSweeper periodically removes dead OAuth token records -- entries
// that are both expired and carry no refresh token, so ValidAccessToken
// can never revive them. The Token Store itself never prunes on read
// (spec §5: "Token Store... many concurrent readers permitted"), so apart
// from an explicit delete through the OAuth façade, this background sweep
// is the only thing that ever shrinks the file.
type TokenSweeper struct {
	store    *auth.TokenStore
	interval time.Duration
}

// NewTokenSweeper creates a TokenSweeper that runs every interval.
func NewTokenSweeper(store *auth.TokenStore, interval time.Duration) *TokenSweeper {
	return &TokenSweeper{store: store, interval: interval}
}

// Name identifies this worker for logging.
func (w *TokenSweeper) Name() string { return "token_sweep" }

// Run sweeps immediately, then on every tick, until ctx is cancelled.
func (w *TokenSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *TokenSweeper) sweep() {
	for id, tok := range w.store.All() {
		if tok.IsExpired() && tok.RefreshToken == "" {
			if err := w.store.Remove(id); err != nil {
				slog.Warn("token sweep: remove dead token failed", "provider_id", id, "error", err)
				continue
			}
			slog.Info("token sweep: removed dead token", "provider_id", id)
		}
	}
}
