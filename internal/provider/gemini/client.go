// Package gemini implements the Gemini adapter (spec §4.3.4) across its
// three mutually-exclusive submodes: API-key, Vertex, and OAuth/Code-Assist.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/auth"
	"github.com/ccmux/gateway/internal/provider"
)

// Submode selects which of Gemini's three auth/endpoint shapes a Client speaks.
type Submode string

const (
	SubmodeAPIKey       Submode = "api_key"
	SubmodeVertex       Submode = "vertex"
	SubmodeCodeAssist   Submode = "code_assist"
)

const (
	defaultAPIKeyBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	codeAssistBaseURL    = "https://cloudcode-pa.googleapis.com/v1internal"
	providerTypeName     = "gemini"
)

var (
	_ gateway.Provider    = (*Client)(nil)
	_ gateway.NativeProxy = (*Client)(nil)
)

// Client is a Gemini provider adapter.
type Client struct {
	name    string
	submode Submode
	http    *http.Client
	models  []string

	// API-key submode.
	apiKey        string
	apiKeyBaseURL string

	// Vertex submode.
	vertexBaseURL string
	project       string
	location      string

	// OAuth/Code-Assist submode.
	oauthClient *auth.OAuthClient
	providerID  string
}

// NewAPIKey creates a Client in API-key submode.
func NewAPIKey(name, apiKey, baseURL string, resolver *dnscache.Resolver, models []string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIKeyBaseURL
	}
	return &Client{
		name:          name,
		submode:       SubmodeAPIKey,
		apiKey:        apiKey,
		apiKeyBaseURL: baseURL,
		http:          &http.Client{Transport: provider.NewTransport(resolver, true)},
		models:        models,
	}
}

// NewVertex creates a Client in Vertex submode. credential supplies the
// bearer token (a short-lived access token the operator refreshes out of
// band); location and project identify the Vertex deployment.
func NewVertex(name, credential, location, project string, resolver *dnscache.Resolver, models []string) *Client {
	c := &Client{
		name:          name,
		submode:       SubmodeVertex,
		apiKey:        credential,
		location:      location,
		project:       project,
		vertexBaseURL: fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", location),
		http:          &http.Client{Transport: provider.NewTransport(resolver, true)},
		models:        models,
	}
	return c
}

// NewCodeAssist creates a Client in OAuth/Code-Assist submode. providerID
// identifies the stored token record (which also carries the GCP project
// to bill requests against); oauthClient resolves and refreshes the bearer
// token per request.
func NewCodeAssist(name, providerID string, oauthClient *auth.OAuthClient, resolver *dnscache.Resolver, models []string) *Client {
	return &Client{
		name:        name,
		submode:     SubmodeCodeAssist,
		providerID:  providerID,
		oauthClient: oauthClient,
		http:        &http.Client{Transport: provider.NewTransport(resolver, true)},
		models:      models,
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Supports(model string) bool {
	for _, m := range c.models {
		if m == model {
			return true
		}
	}
	return false
}

// Send issues a unary generateContent call, making up to 3 attempts in all
// on a 429 response using the upstream-advertised delay (spec §4.3.4).
func (c *Client) Send(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	gReq := translateRequest(req)

	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		resp, body, err := c.doGenerateContent(ctx, gReq, req.Model)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			id := fmt.Sprintf("gemini-%d", time.Now().UnixMilli())
			return translateResponse(body, id, req.Model)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return nil, &gateway.APIError{Provider: providerTypeName, StatusCode: resp.StatusCode, Body: string(body)}
		}
		lastErr = &gateway.APIError{Provider: providerTypeName, StatusCode: resp.StatusCode, Body: string(body)}
		delay := parseRetryDelay(body)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// doGenerateContent issues one attempt and returns the raw response plus
// its fully-read body (so retry logic can inspect a 429 body after the
// response has been closed).
func (c *Client) doGenerateContent(ctx context.Context, gReq *geminiRequest, model string) (*http.Response, []byte, error) {
	u, body, err := c.buildRequestBody(ctx, gReq, model, false)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: create request: %w", err)
	}
	if err := c.setAuth(ctx, httpReq); err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: read response: %w", err)
	}
	return resp, respBody, nil
}

// Stream issues a streamGenerateContent call and forwards the raw SSE bytes
// unchanged (spec-mandated passthrough; see SPEC_FULL.md §4.3 Open Question
// resolution).
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	gReq := translateRequest(req)
	u, body, err := c.buildRequestBody(ctx, gReq, req.Model, true)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	if err := c.setAuth(ctx, httpReq); err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerTypeName, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go passthroughStream(resp.Body, ch)
	return ch, nil
}

// buildRequestBody resolves the URL and marshals the request body for the
// active submode; Code-Assist wraps the Gemini request under "request" with
// project/user_prompt_id metadata.
func (c *Client) buildRequestBody(ctx context.Context, gReq *geminiRequest, model string, streaming bool) (string, []byte, error) {
	switch c.submode {
	case SubmodeAPIKey:
		u := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.apiKeyBaseURL, model, c.apiKey)
		if streaming {
			u = fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s&alt=sse", c.apiKeyBaseURL, model, c.apiKey)
		}
		body, err := json.Marshal(gReq)
		return u, body, err

	case SubmodeVertex:
		action := "generateContent"
		if streaming {
			action = "streamGenerateContent?alt=sse"
		}
		u := fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s:%s",
			c.vertexBaseURL, c.project, c.location, model, action)
		body, err := json.Marshal(gReq)
		return u, body, err

	case SubmodeCodeAssist:
		tok, ok := c.oauthClient.TokenRecord(c.providerID)
		if !ok {
			return "", nil, fmt.Errorf("%w: gemini: resolve code-assist token record", gateway.ErrAuthError)
		}
		action := ":generateContent"
		if streaming {
			action = ":streamGenerateContent?alt=sse"
		}
		wrapped := map[string]any{
			"model":          model,
			"project":        tok.ProjectID,
			"user_prompt_id": fmt.Sprintf("gemini-%d", time.Now().UnixMilli()),
			"request":        gReq,
		}
		body, err := json.Marshal(wrapped)
		return codeAssistBaseURL + action, body, err

	default:
		return "", nil, fmt.Errorf("gemini: unknown submode %q", c.submode)
	}
}

func (c *Client) setAuth(ctx context.Context, r *http.Request) error {
	switch c.submode {
	case SubmodeAPIKey:
		// credential travels in the URL's key= query parameter, set by
		// buildRequestBody; nothing to add here.
	case SubmodeVertex:
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	case SubmodeCodeAssist:
		tok, err := c.oauthClient.ValidAccessToken(ctx, c.providerID)
		if err != nil {
			return fmt.Errorf("%w: gemini: %v", gateway.ErrAuthError, err)
		}
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// CountTokens has no wired native Gemini count endpoint; callers fall back
// to the gateway's own estimator.
func (c *Client) CountTokens(_ context.Context, req *gateway.ChatRequest) (int, error) {
	return 0, fmt.Errorf("gemini: count_tokens not implemented by this adapter")
}

// HealthCheck issues a minimal models list call for API-key submode; other
// submodes report healthy once constructed, since they require full-body
// invokes to exercise meaningfully.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.submode != SubmodeAPIKey {
		return nil
	}
	u := c.apiKeyBaseURL + "/models?key=" + c.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("gemini: health check: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.ParseAPIError(providerTypeName, resp)
	}
	return nil
}

// ProxyRequest forwards a raw HTTP request to the Gemini API (API-key submode only).
func (c *Client) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error {
	return provider.ForwardRequest(ctx, c.http, strings.TrimRight(c.apiKeyBaseURL, "/"), func(h http.Header) {
		h.Set("x-goog-api-key", c.apiKey)
	}, w, r, path)
}
