package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	gateway "github.com/ccmux/gateway/internal"
)

// PKCEVerifier is a generated PKCE verifier/challenge pair.
type PKCEVerifier struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE produces a fresh RFC 7636 verifier (via oauth2.GenerateVerifier,
// a cryptographically random 43-128 char string) and its S256 challenge
// (SHA-256 of the verifier bytes, URL-safe base64 without padding). The
// token exchange itself stays hand-rolled (see post) since the provider's
// token endpoint expects a JSON body, not oauth2's form-encoded POST.
func GeneratePKCE() (PKCEVerifier, error) {
	verifier := oauth2.GenerateVerifier()
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return PKCEVerifier{Verifier: verifier, Challenge: challenge}, nil
}

// OAuthConfig describes one provider's OAuth endpoints and client identity.
type OAuthConfig struct {
	ClientID    string
	AuthURL     string
	TokenURL    string
	RedirectURI string
	Scopes      []string
}

// AnthropicOAuthConfig returns the Anthropic Claude Pro/Max OAuth config,
// grounded on original_source/src/auth/oauth.rs's OAuthConfig::anthropic().
func AnthropicOAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:    "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		AuthURL:     "https://claude.ai/oauth/authorize",
		TokenURL:    "https://console.anthropic.com/v1/oauth/token",
		RedirectURI: "https://console.anthropic.com/oauth/code/callback",
		Scopes:      []string{"org:create_api_key", "user:profile", "user:inference"},
	}
}

// AnthropicConsoleOAuthConfig is the Console variant used by CreateAPIKey,
// grounded on OAuthConfig::anthropic_console() in the same source.
func AnthropicConsoleOAuthConfig() OAuthConfig {
	c := AnthropicOAuthConfig()
	c.AuthURL = "https://console.anthropic.com/oauth/authorize"
	return c
}

// AuthorizationURL is the result of building a login URL.
type AuthorizationURL struct {
	URL      string
	Verifier PKCEVerifier
}

// OAuthClient binds a Token Store to one provider's OAuth endpoints.
type OAuthClient struct {
	config OAuthConfig
	store  *TokenStore
	http   *http.Client
}

// NewOAuthClient returns a client for config backed by store.
func NewOAuthClient(config OAuthConfig, store *TokenStore) *OAuthClient {
	return &OAuthClient{config: config, store: store, http: &http.Client{Timeout: 30 * time.Second}}
}

// AuthorizationURL builds a fresh login URL with PKCE parameters.
func (c *OAuthClient) AuthorizationURL() (AuthorizationURL, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return AuthorizationURL{}, err
	}

	u, err := url.Parse(c.config.AuthURL)
	if err != nil {
		return AuthorizationURL{}, fmt.Errorf("parse auth url: %w", err)
	}

	q := u.Query()
	q.Set("code", "true")
	q.Set("client_id", c.config.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.config.RedirectURI)
	q.Set("scope", strings.Join(c.config.Scopes, " "))
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", pkce.Verifier)
	u.RawQuery = q.Encode()

	return AuthorizationURL{URL: u.String(), Verifier: pkce}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeCode exchanges an authorization code for a token and writes it
// through to the Token Store. code is split on '#' into (auth_code, state);
// if no '#' is present, verifier is used as the state.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, verifier, providerID string) (gateway.OAuthToken, error) {
	authCode, state := code, verifier
	if i := strings.IndexByte(code, '#'); i >= 0 {
		authCode, state = code[:i], code[i+1:]
	}

	body, err := json.Marshal(map[string]string{
		"code":          authCode,
		"state":         state,
		"grant_type":    "authorization_code",
		"client_id":     c.config.ClientID,
		"redirect_uri":  c.config.RedirectURI,
		"code_verifier": verifier,
	})
	if err != nil {
		return gateway.OAuthToken{}, fmt.Errorf("marshal token request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return gateway.OAuthToken{}, authErrorFromPost(providerID, gateway.AuthReasonExchangeFailed, err)
	}

	tok := gateway.OAuthToken{
		ProviderID:   providerID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if err := c.store.Save(tok); err != nil {
		return gateway.OAuthToken{}, fmt.Errorf("save exchanged token: %w", err)
	}
	return tok, nil
}

// RefreshToken refreshes the stored token for providerID. It requires an
// existing record and preserves EnterpriseURL/ProjectID. Refresh failures
// do NOT delete the existing record.
func (c *OAuthClient) RefreshToken(ctx context.Context, providerID string) (gateway.OAuthToken, error) {
	existing, ok := c.store.Get(providerID)
	if !ok {
		return gateway.OAuthToken{}, &gateway.AuthError{Provider: providerID, Reason: gateway.AuthReasonTokenMissing}
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": existing.RefreshToken,
		"client_id":     c.config.ClientID,
	})
	if err != nil {
		return gateway.OAuthToken{}, fmt.Errorf("marshal refresh request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return gateway.OAuthToken{}, authErrorFromPost(providerID, gateway.AuthReasonRefreshFailed, err)
	}

	tok := gateway.OAuthToken{
		ProviderID:    providerID,
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpiresAt:     time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		EnterpriseURL: existing.EnterpriseURL,
		ProjectID:     existing.ProjectID,
	}
	if err := c.store.Save(tok); err != nil {
		return gateway.OAuthToken{}, fmt.Errorf("save refreshed token: %w", err)
	}
	return tok, nil
}

// ValidAccessToken returns the stored access token, refreshing first if it
// needs refresh. Each outgoing request asks here rather than caching a
// bearer token inside the adapter, keeping adapters stateless w.r.t.
// credential expiry.
func (c *OAuthClient) ValidAccessToken(ctx context.Context, providerID string) (string, error) {
	tok, ok := c.store.Get(providerID)
	if !ok {
		return "", &gateway.AuthError{Provider: providerID, Reason: gateway.AuthReasonTokenMissing}
	}
	if !tok.NeedsRefresh() {
		return tok.AccessToken, nil
	}
	refreshed, err := c.RefreshToken(ctx, providerID)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// TokenRecord returns the raw stored token record for providerID, without
// refreshing it. Adapters that need metadata beyond the bearer token itself
// (e.g. Gemini Code-Assist's billing project ID) use this instead of
// ValidAccessToken.
func (c *OAuthClient) TokenRecord(providerID string) (gateway.OAuthToken, bool) {
	return c.store.Get(providerID)
}

// CreateAPIKey exchanges a valid OAuth access token for a long-lived
// Anthropic Console API key. Supplemented from
// original_source/src/auth/oauth.rs's create_api_key; not part of the core
// request path, exposed only via the OAuth façade as an enrichment.
func (c *OAuthClient) CreateAPIKey(ctx context.Context, providerID string) (string, error) {
	accessToken, err := c.ValidAccessToken(ctx, providerID)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.anthropic.com/api/oauth/claude_cli/create_api_key", nil)
	if err != nil {
		return "", fmt.Errorf("build create_api_key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &gateway.APIError{Provider: providerID, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		RawKey string `json:"raw_key"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse create_api_key response: %w", err)
	}
	return out.RawKey, nil
}

// tokenEndpointError carries the upstream status/body for a non-2xx token
// endpoint response, so callers can surface it verbatim on AuthError per
// spec §7 ("message carries upstream status and body").
type tokenEndpointError struct {
	status int
	body   string
}

func (e *tokenEndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.body)
}

func (c *OAuthClient) post(ctx context.Context, body []byte) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, bytes.NewReader(body))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, &tokenEndpointError{status: resp.StatusCode, body: string(respBody)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return tokenResponse{}, fmt.Errorf("parse token response: %w", err)
	}
	return tr, nil
}

// authErrorFromPost wraps a post() failure as an AuthError, carrying the
// upstream status/body through when post() failed with a non-2xx response
// rather than a transport-level error.
func authErrorFromPost(providerID string, reason gateway.AuthReason, err error) *gateway.AuthError {
	var tee *tokenEndpointError
	if errors.As(err, &tee) {
		return &gateway.AuthError{Provider: providerID, Reason: reason, Status: http.StatusBadGateway, Body: tee.body}
	}
	return &gateway.AuthError{Provider: providerID, Reason: reason, Status: http.StatusBadGateway, Body: err.Error()}
}
