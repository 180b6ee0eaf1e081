// Package codex implements the OpenAI-Responses adapter (spec §4.3.2),
// selected when an adapter instance is OAuth-bound or the routed model name
// contains "codex". It speaks the /responses (or OAuth /codex/responses)
// endpoint, which returns SSE even for unary calls, and always requests
// stream=true/store=false per the upstream's contract.
package codex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/provider"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	providerTypeName = "codex"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	origin    = "https://chatgpt.com"
	referer   = "https://chatgpt.com/"
	secChUA   = `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`

	// DefaultInstructions is the fixed system instruction string sent on
	// every Codex Responses call; cmd/ccmux passes it to New for every Codex
	// provider. The real upstream contract embeds OpenAI's own Codex CLI
	// instructions verbatim; this is a stand-in, and no config key
	// replaces it.
	DefaultInstructions = "You are a coding assistant operating through the Codex responses API."
)

var _ gateway.Provider = (*Client)(nil)

// Client is the OpenAI-Responses (Codex) provider adapter.
type Client struct {
	name         string
	baseURL      string
	http         *http.Client
	models       []string
	oauth        bool   // true when credential is an OAuth access token (ChatGPT Codex backend)
	instructions string // fixed Codex system instructions
}

// New creates a Client. credential resolution (static API key header vs.
// OAuth bearer) happens via client's transport chain; oauth reports which
// mode is in effect so the adapter can select the /codex/responses endpoint
// and attach the Codex-specific header set. instructions is the fixed
// Codex instruction string sent as the "instructions" field on every call.
func New(name, baseURL string, client *http.Client, models []string, oauth bool, instructions string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		name:         name,
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         client,
		models:       models,
		oauth:        oauth,
		instructions: instructions,
	}
}

func (c *Client) Name() string { return c.name }

// Supports matches the exact-match allow-list, plus any model name
// (case-insensitive) containing "codex" regardless of allow-list membership.
func (c *Client) Supports(model string) bool {
	if strings.Contains(strings.ToLower(model), "codex") {
		return true
	}
	for _, m := range c.models {
		if m == model {
			return true
		}
	}
	return false
}

func (c *Client) endpoint() string {
	if c.oauth {
		return c.baseURL + "/codex/responses"
	}
	return c.baseURL + "/responses"
}

// Send issues a unary call. The upstream always answers with SSE; the
// response is read in full and parsed as a stream to reconstruct a single
// ChatResponse.
func (c *Client) Send(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	blocks, err := parseCompletedEvent(resp.Body)
	if err != nil {
		return nil, err
	}
	return &gateway.ChatResponse{
		Type:    "message",
		Role:    "assistant",
		Content: blocks,
		Model:   req.Model,
	}, nil
}

// Stream issues the same request and translates the accumulated
// response.completed payload into a single burst of Anthropic-shaped SSE
// frames, since the upstream has no true incremental delta protocol for
// Codex responses.
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan gateway.StreamChunk, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		blocks, err := parseCompletedEvent(resp.Body)
		if err != nil {
			ch <- gateway.StreamChunk{Err: err}
			return
		}
		emitBlocksAsStream(req.Model, blocks, ch)
	}()
	return ch, nil
}

func (c *Client) doRequest(ctx context.Context, req *gateway.ChatRequest) (*http.Response, error) {
	rReq := translateRequest(req, c.instructions)
	body, err := json.Marshal(rReq)
	if err != nil {
		return nil, fmt.Errorf("codex: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("codex: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("codex: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerTypeName, resp)
	}
	return resp, nil
}

// setHeaders applies the base headers plus, for OAuth mode, the full
// Codex/ChatGPT-backend header contract. The bearer credential itself is
// attached by the client's transport chain (cloudauth.APIKeyTransport or
// the OAuth equivalent), so only the account-id claim needs extracting here.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "text/event-stream")
	if !c.oauth {
		return
	}
	accountID, err := extractChatGPTAccountID(r.Header.Get("Authorization"))
	if err != nil {
		return // malformed token; upstream will reject with 401, surfaced as AuthError by the caller
	}
	r.Header.Set("chatgpt-account-id", accountID)
	r.Header.Set("OpenAI-Beta", "responses=experimental")
	r.Header.Set("originator", "codex_cli_rs")
	r.Header.Set("User-Agent", userAgent)
	r.Header.Set("Origin", origin)
	r.Header.Set("Referer", referer)
	r.Header.Set("sec-ch-ua", secChUA)
	r.Header.Set("sec-ch-ua-mobile", "?0")
	r.Header.Set("sec-ch-ua-platform", `"macOS"`)
	r.Header.Set("sec-fetch-dest", "empty")
	r.Header.Set("sec-fetch-mode", "cors")
	r.Header.Set("sec-fetch-site", "same-origin")
}

// extractChatGPTAccountID pulls the chatgpt_account_id claim out of an
// OAuth access token's JWT payload (the middle, base64url-encoded segment).
// A malformed or non-JWT token returns an error rather than panicking.
func extractChatGPTAccountID(authHeader string) (string, error) {
	token := strings.TrimPrefix(authHeader, "Bearer ")
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: codex: access token is not a JWT", gateway.ErrAuthError)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: codex: decode JWT payload: %v", gateway.ErrAuthError, err)
	}
	var payload struct {
		Auth struct {
			ChatGPTAccountID string `json:"chatgpt_account_id"`
		} `json:"https://api.openai.com/auth"`
	}
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return "", fmt.Errorf("%w: codex: parse JWT payload: %v", gateway.ErrAuthError, err)
	}
	if payload.Auth.ChatGPTAccountID == "" {
		return "", fmt.Errorf("%w: codex: chatgpt_account_id claim missing", gateway.ErrAuthError)
	}
	return payload.Auth.ChatGPTAccountID, nil
}

// CountTokens is not available for the Responses endpoint; callers fall
// back to the gateway's own estimator.
func (c *Client) CountTokens(_ context.Context, req *gateway.ChatRequest) (int, error) {
	return 0, fmt.Errorf("codex: count_tokens not implemented by this adapter")
}

// HealthCheck issues a minimal request and treats any non-5xx as healthy
// connectivity (Codex has no lightweight ping endpoint).
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("codex: health check: %w", err)
	}
	c.setHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("codex: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return provider.ParseAPIError(providerTypeName, resp)
	}
	return nil
}

// parseCompletedEvent scans SSE lines for "event: response.completed",
// takes the following "data: {...}" line, and extracts Thinking/Text blocks
// from response.output[] in order.
func parseCompletedEvent(body io.Reader) ([]gateway.ContentBlock, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("codex: read response: %w", err)
	}

	for i, line := range lines {
		if !strings.HasPrefix(line, "event: response.completed") {
			continue
		}
		if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "data: ") {
			continue
		}
		payload := strings.TrimPrefix(lines[i+1], "data: ")

		var env struct {
			Response struct {
				Output []struct {
					Type    string `json:"type"`
					Content []struct {
						Text string `json:"text"`
					} `json:"content"`
				} `json:"output"`
			} `json:"response"`
		}
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			continue
		}

		var blocks []gateway.ContentBlock
		for _, item := range env.Response.Output {
			if len(item.Content) == 0 {
				continue
			}
			text := item.Content[0].Text
			switch item.Type {
			case "reasoning":
				blocks = append(blocks, gateway.ContentBlock{Type: "thinking", Thinking: text, Signature: ""})
			case "message":
				blocks = append(blocks, gateway.ContentBlock{Type: "text", Text: text})
			}
		}
		if len(blocks) > 0 {
			return blocks, nil
		}
	}
	return nil, fmt.Errorf("%w: codex: no content found in response.completed event", gateway.ErrParseError)
}
