package server

import "net/http"

// oauthProviderRequest is the common body shape shared by the authorize,
// exchange, refresh, and delete façade endpoints: each is keyed by the
// provider_type that identifies which OAuthConfig/TokenStore entry to act
// on (spec §4.6 OAuth façade).
type oauthProviderRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code,omitempty"`
	Verifier string `json:"verifier,omitempty"`
}

// handleOAuthAuthorize implements POST /api/oauth/authorize: builds a
// fresh PKCE login URL for the named provider.
func (s *server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	var body oauthProviderRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}
	client, ok := s.deps.OAuth[body.Provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown oauth provider: "+body.Provider))
		return
	}
	auth, err := client.AuthorizationURL()
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      auth.URL,
		"verifier": auth.Verifier.Verifier,
	})
}

// handleOAuthExchange implements POST /api/oauth/exchange: trades an
// authorization code for a token and writes it through to the Token Store.
func (s *server) handleOAuthExchange(w http.ResponseWriter, r *http.Request) {
	var body oauthProviderRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}
	client, ok := s.deps.OAuth[body.Provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown oauth provider: "+body.Provider))
		return
	}
	tok, err := client.ExchangeCode(r.Context(), body.Code, body.Verifier, body.Provider)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// handleOAuthCallback implements GET /api/oauth/callback: the browser
// redirect target after the provider's consent screen, taking the same
// fields as /exchange via query parameters.
func (s *server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID := q.Get("provider")
	client, ok := s.deps.OAuth[providerID]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown oauth provider: "+providerID))
		return
	}
	tok, err := client.ExchangeCode(r.Context(), q.Get("code"), q.Get("verifier"), providerID)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// handleOAuthRefresh implements POST /api/oauth/tokens/refresh.
func (s *server) handleOAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var body oauthProviderRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}
	client, ok := s.deps.OAuth[body.Provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown oauth provider: "+body.Provider))
		return
	}
	tok, err := client.RefreshToken(r.Context(), body.Provider)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// handleOAuthCreateAPIKey implements POST /api/oauth/create_api_key:
// exchanges a valid OAuth access token for a long-lived Anthropic Console
// API key (spec §4.2 enrichment, exposed purely as an admin convenience --
// not part of the core request path).
func (s *server) handleOAuthCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body oauthProviderRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}
	client, ok := s.deps.OAuth[body.Provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown oauth provider: "+body.Provider))
		return
	}
	key, err := client.CreateAPIKey(r.Context(), body.Provider)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
}

// handleOAuthDelete implements POST /api/oauth/tokens/delete.
func (s *server) handleOAuthDelete(w http.ResponseWriter, r *http.Request) {
	var body oauthProviderRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}
	if s.deps.Tokens == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse("token store not configured"))
		return
	}
	if err := s.deps.Tokens.Remove(body.Provider); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleOAuthTokens implements GET /api/oauth/tokens: the stored token
// records (access tokens redacted -- only enough to tell callers which
// providers have credentials and whether they're expired).
func (s *server) handleOAuthTokens(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tokens == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tokens": []any{}})
		return
	}
	var out []oauthTokenSummary
	for _, id := range s.deps.Tokens.ListProviderIDs() {
		tok, ok := s.deps.Tokens.Get(id)
		if !ok {
			continue
		}
		out = append(out, oauthTokenSummary{
			ProviderID: tok.ProviderID,
			Expired:    tok.IsExpired(),
			ExpiresAt:  tok.ExpiresAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

type oauthTokenSummary struct {
	ProviderID string `json:"provider_id"`
	Expired    bool   `json:"expired"`
	ExpiresAt  int64  `json:"expires_at"`
}
