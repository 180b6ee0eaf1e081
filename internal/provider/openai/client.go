// Package openai implements the OpenAI-Chat adapter (spec §4.3.1): request
// translation into chat/completions, response translation back into the
// canonical Anthropic-shaped schema, and stream translation of OpenAI SSE
// deltas into Anthropic-shaped SSE events.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/provider"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	providerTypeName = "openai"
)

var _ gateway.Provider = (*Client)(nil)

// Client is an OpenAI-Chat provider adapter.
type Client struct {
	name    string
	apiKey  string
	baseURL string
	http    *http.Client
	models  []string
}

// New creates an OpenAI Client with a tuned http.Client. If baseURL is
// empty, it defaults to "https://api.openai.com/v1". If resolver is
// non-nil, it wraps the transport's DialContext with cached DNS lookups.
// models is the exact-match allow-list this instance serves.
func New(name, apiKey, baseURL string, resolver *dnscache.Resolver, models []string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Transport: t},
		models:  models,
	}
}

// Name returns the configured provider instance name.
func (c *Client) Name() string { return c.name }

// Supports reports whether model is in this instance's exact-match allow-list.
func (c *Client) Supports(model string) bool {
	return slices.Contains(c.models, model)
}

// Send translates req into a chat/completions request, issues it, and
// translates the response back into the canonical schema.
func (c *Client) Send(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	oReq, err := translateRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerTypeName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	return translateResponse(respBody)
}

// Stream translates req, issues a streaming chat/completions request, and
// translates the resulting OpenAI SSE deltas into Anthropic-shaped SSE
// events delivered on the returned channel.
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	oReq, err := translateRequest(req)
	if err != nil {
		return nil, err
	}
	oReq.Stream = true
	oReq.StreamOptions = &streamOptions{IncludeUsage: true}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerTypeName, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go translateStream(ctx, resp, ch)
	return ch, nil
}

// CountTokens has no cheap native OpenAI endpoint; callers should rely on
// the gateway's own estimator for this adapter type.
func (c *Client) CountTokens(_ context.Context, req *gateway.ChatRequest) (int, error) {
	return 0, fmt.Errorf("openai: count_tokens not implemented by this adapter")
}

// HealthCheck verifies connectivity by listing models.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai: health check: %w", err)
	}
	c.setHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.ParseAPIError(providerTypeName, resp)
	}
	return nil
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("Content-Type", "application/json")
}
