// Package auth implements the gateway's own (optional) caller authentication
// and the upstream OAuth credential lifecycle (Token Store + OAuth Client).
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	gateway "github.com/ccmux/gateway/internal"
)

// SharedKeyAuth authenticates the gateway's own callers against a single
// configured shared secret. This is the only client-auth mechanism spec.md
// permits (Non-goals exclude per-key accounts, RBAC, budgets, expiry).
type SharedKeyAuth struct {
	key string
}

// NewSharedKeyAuth returns an Authenticator that requires the Authorization
// header to be "Bearer <key>" with key matching exactly. An empty key
// rejects every request (Authenticate never succeeds) -- leave Auth nil in
// server.Deps to disable authentication instead.
func NewSharedKeyAuth(key string) *SharedKeyAuth {
	return &SharedKeyAuth{key: key}
}

// Authenticate checks the bearer token against the configured shared key
// using a constant-time comparison.
func (a *SharedKeyAuth) Authenticate(ctx context.Context, r *http.Request) error {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return gateway.ErrAuthError
	}
	if subtle.ConstantTimeCompare([]byte(raw), []byte(a.key)) != 1 {
		return gateway.ErrAuthError
	}
	return nil
}
