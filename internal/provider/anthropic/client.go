// Package anthropic implements the Anthropic-Compatible adapter (spec
// §4.3.3): a pass-through for providers that already speak the canonical
// wire schema. No request/response translation is needed since
// gateway.ChatRequest/ChatResponse are themselves Anthropic-shaped; the
// adapter only adds the base URL, the bearer credential, and the
// anthropic-version header, and forwards bodies verbatim.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerTypeName = "anthropic"
	anthropicVersion = "2023-06-01"
)

var (
	_ gateway.Provider    = (*Client)(nil)
	_ gateway.NativeProxy = (*Client)(nil)
)

// Client is an Anthropic-Compatible provider adapter.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	models  []string // exact-match allow-list; empty matches no model in Supports
}

// New creates a Client. name is the configured provider instance name;
// baseURL defaults to "https://api.anthropic.com/v1" when empty. The
// supplied http.Client is expected to carry auth (API key or OAuth bearer)
// on its transport chain. models is the exact-match set this instance
// accepts; pass nil to accept any model routed to it explicitly.
func New(name, baseURL string, client *http.Client, models []string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		models:  models,
	}
}

// Name returns the configured provider instance name.
func (c *Client) Name() string { return c.name }

// Supports reports whether model is in this instance's exact-match allow-list.
// An empty allow-list accepts nothing by scan; it only ever serves models
// routed to it via an explicit [[models]] mapping.
func (c *Client) Supports(model string) bool {
	return slices.Contains(c.models, model)
}

// Send issues a non-streaming request, forwarding req's JSON body verbatim.
func (c *Client) Send(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerTypeName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	var out gateway.ChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: anthropic: decode response: %v", gateway.ErrParseError, err)
	}
	return &out, nil
}

// Stream issues a streaming request and forwards the upstream SSE body
// verbatim onto the returned channel -- Anthropic already emits the wire
// format our clients expect, so no event translation is required.
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerTypeName, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go passthroughStream(resp.Body, ch)
	return ch, nil
}

// passthroughStream copies each raw SSE line onto ch without reinterpreting it.
func passthroughStream(body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		out := make([]byte, len(line)+1)
		copy(out, line)
		out[len(line)] = '\n'
		ch <- gateway.StreamChunk{Data: out}
	}
	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: err}
		return
	}
	ch <- gateway.StreamChunk{Done: true}
}

// CountTokens has no native Anthropic count endpoint wired here; the
// gateway's own tokencount estimator is used instead for this adapter type.
func (c *Client) CountTokens(_ context.Context, req *gateway.ChatRequest) (int, error) {
	return 0, fmt.Errorf("anthropic: count_tokens not implemented by this adapter")
}

// HealthCheck issues a lightweight HEAD request to the messages endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/messages", nil)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	c.setHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	resp.Body.Close()
	return nil
}

// ProxyRequest forwards a raw HTTP request to the upstream Anthropic-Compatible API.
func (c *Client) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error {
	setAuth := func(h http.Header) {
		h.Set("anthropic-version", anthropicVersion)
	}
	return provider.ForwardRequest(ctx, c.http, c.baseURL, setAuth, w, r, path)
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("content-type", "application/json")
	r.Header.Set("anthropic-version", anthropicVersion)
}
