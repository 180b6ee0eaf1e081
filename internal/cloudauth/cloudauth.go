// Package cloudauth provides http.RoundTripper decorators that inject
// authentication headers for cloud-hosted LLM providers: a static API-key
// header, or a bearer token resolved per request from a TokenSource.
package cloudauth

import (
	"context"
	"net/http"
)

// TokenSource resolves a bearer token for a given provider ID, refreshing
// it first if needed. Satisfied by *auth.OAuthClient's ValidAccessToken.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, providerID string) (string, error)
}

// OAuthTransport is an http.RoundTripper that injects a fresh OAuth bearer
// token on every outbound request, resolved through a TokenSource rather
// than cached on the transport -- credential refresh stays entirely inside
// the Token Store / OAuth Client, matching the adapters' stateless-w.r.t.
// credential-expiry design.
type OAuthTransport struct {
	Source     TokenSource
	ProviderID string
	Base       http.RoundTripper
}

// RoundTrip clones the request and sets the Authorization header.
func (t *OAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.Source.ValidAccessToken(r.Context(), t.ProviderID)
	if err != nil {
		return nil, err
	}
	r2 := r.Clone(r.Context())
	r2.Header.Set("Authorization", "Bearer "+tok)
	return t.base().RoundTrip(r2)
}

func (t *OAuthTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// APIKeyTransport is an http.RoundTripper that injects a static API key
// header on every outbound request. HeaderName is the header to set
// (e.g. "Authorization", "x-api-key"). Prefix is prepended to Key
// (e.g. "Bearer " for Authorization headers).
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Prefix     string
	Base       http.RoundTripper
}

// RoundTrip clones the request and sets the auth header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(t.HeaderName, t.Prefix+t.Key)
	return t.base().RoundTrip(r2)
}

func (t *APIKeyTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
