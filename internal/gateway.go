// Package gateway defines the canonical (Anthropic-shaped) domain types and
// interfaces for the ccmux LLM gateway. This package has no project imports
// -- it is the dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// --- Canonical request/response (Anthropic-shaped) ---

// ChatRequest is the canonical request accepted by the gateway's HTTP
// front-end and passed, mutable, through the Router before being handed to
// a Provider adapter.
type ChatRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        *SystemPrompt   `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// SystemPrompt is either a bare text string or an ordered sequence of
// content blocks. Exactly one of Text/Blocks is populated.
type SystemPrompt struct {
	Text   string
	Blocks []SystemBlock
}

// SystemBlock is a single block within a Blocks-variant SystemPrompt.
type SystemBlock struct {
	Text string `json:"text"`
}

// IsBlocks reports whether the system prompt is the Blocks variant.
func (s *SystemPrompt) IsBlocks() bool { return s != nil && s.Blocks != nil }

// MarshalJSON renders Text as a bare JSON string and Blocks as an array of
// {"type":"text","text":...} objects, matching the Anthropic wire format.
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		type block struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		out := make([]block, len(s.Blocks))
		for i, b := range s.Blocks {
			out[i] = block{Type: "text", Text: b.Text}
		}
		return json.Marshal(out)
	}
	return json.Marshal(s.Text)
}

// UnmarshalJSON accepts either a bare string or an array of text blocks.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		s.Blocks = nil
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	s.Blocks = make([]SystemBlock, len(blocks))
	for i, b := range blocks {
		s.Blocks[i] = SystemBlock{Text: b.Text}
	}
	return nil
}

// Message is a single turn in the canonical conversation.
type Message struct {
	Role    string         `json:"role"` // "user" | "assistant"
	Content MessageContent `json:"content"`
}

// MessageContent is either a bare string or an ordered sequence of content
// blocks. Exactly one of Text/Blocks is populated after unmarshal.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// IsBlocks reports whether the content is the Blocks variant.
func (m MessageContent) IsBlocks() bool { return m.Blocks != nil }

func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.Blocks != nil {
		return json.Marshal(m.Blocks)
	}
	return json.Marshal(m.Text)
}

func (m *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		m.Text = text
		m.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	m.Blocks = blocks
	return nil
}

// ContentBlock is a tagged variant: Text, Image, ToolUse, ToolResult, Thinking.
// Only the fields relevant to Type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// Text
	Text string `json:"text,omitempty"`

	// Image
	Source *ImageSource `json:"source,omitempty"`

	// ToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolResult
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// Thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ImageSource describes an inline or URL image reference.
type ImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is a canonical tool definition offered to the model.
type Tool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ThinkingConfig controls extended-thinking ("plan mode") behavior.
type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

// ChatResponse is the canonical unary response.
type ChatResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // always "message"
	Role         string         `json:"role"` // always "assistant"
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage reports canonical token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamChunk is one element of an adapter's canonical SSE byte stream.
// Data already carries a fully framed "event: ...\ndata: ...\n\n" record
// (or a raw passthrough fragment for providers that forward verbatim).
type StreamChunk struct {
	Data  []byte
	Usage *Usage
	Done  bool
	Err   error
}

// --- Provider adapter ---

// Provider is the capability every adapter variant implements.
type Provider interface {
	// Name returns the configured provider identifier.
	Name() string
	// Supports reports whether this provider serves the given external model name.
	Supports(model string) bool
	// Send performs a unary canonical request/response round trip.
	Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Stream performs a streaming call, emitting canonical SSE byte frames.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	// CountTokens estimates canonical token usage for a request without calling upstream.
	CountTokens(ctx context.Context, req *ChatRequest) (int, error)
	// HealthCheck verifies connectivity to the provider.
	HealthCheck(ctx context.Context) error
}

// NativeProxy is an optional capability for providers that can forward a raw
// HTTP request/response pair verbatim (used by the Anthropic-Compatible
// adapter's pass-through behavior). Checked via type assertion.
type NativeProxy interface {
	ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error
}

// --- OAuth token record ---

// OAuthToken is a persisted OAuth credential for one provider_id.
type OAuthToken struct {
	ProviderID     string    `json:"provider_id"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	EnterpriseURL  string    `json:"enterprise_url,omitempty"`
	ProjectID      string    `json:"project_id,omitempty"`
}

// IsExpired reports whether the token is already past its expiry instant.
func (t *OAuthToken) IsExpired() bool { return !time.Now().Before(t.ExpiresAt) }

// NeedsRefresh reports whether the token is within 5 minutes of expiry.
func (t *OAuthToken) NeedsRefresh() bool { return !time.Now().Add(5 * time.Minute).Before(t.ExpiresAt) }

// --- Provider configuration ---

// AuthType enumerates how a provider entry authenticates.
type AuthType string

const (
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeOAuth  AuthType = "oauth"
)

// ProviderConfig is one entry in the configuration's providers sequence.
type ProviderConfig struct {
	Name          string   `json:"name"`
	ProviderType  string   `json:"provider_type"`
	AuthType      AuthType `json:"auth_type"`
	APIKey        string   `json:"api_key,omitempty"`
	OAuthProvider string   `json:"oauth_provider,omitempty"` // token-store key
	ProjectID     string   `json:"project_id,omitempty"`
	Location      string   `json:"location,omitempty"`
	BaseURL       string   `json:"base_url,omitempty"`
	Models        []string `json:"models,omitempty"`
	Enabled       *bool    `json:"enabled,omitempty"`
}

// IsEnabled reports whether the entry should be built; default true.
func (p *ProviderConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// ModelMapping is one entry of the top-level [[models]] config section.
type ModelMapping struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Priority int    `json:"priority"`
}

// --- Route decision ---

// RouteType enumerates the Router's decision kinds.
type RouteType string

const (
	RouteWebSearch  RouteType = "websearch"
	RouteThink      RouteType = "think"
	RouteBackground RouteType = "background"
	RouteDefault    RouteType = "default"
)

// RouteDecision is returned by the Router and consumed by the Front-End.
type RouteDecision struct {
	ModelName string
	RouteType RouteType
}

// --- Typed errors ---

// APIError reports a non-2xx response from an upstream provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return e.Provider + ": upstream status " + itoa(e.StatusCode) + ": " + e.Body
}

// HTTPStatus exposes the upstream status for the Front-End's error mapper.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// AuthReason enumerates why an AuthError was raised.
type AuthReason string

const (
	AuthReasonTokenMissing   AuthReason = "token_missing"
	AuthReasonRefreshFailed  AuthReason = "refresh_failed"
	AuthReasonExchangeFailed AuthReason = "exchange_failed"
	AuthReasonClaimExtract   AuthReason = "claim_extraction_failed"
)

// AuthError reports an OAuth/credential failure (spec §7 "Auth errors").
type AuthError struct {
	Provider string
	Reason   AuthReason
	Status   int
	Body     string
}

func (e *AuthError) Error() string {
	msg := e.Provider + ": " + string(e.Reason)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// --- Sentinel errors (spec §7 taxonomy) ---

var (
	ErrNotFound          = sentinel("not found")
	ErrBadRequest        = sentinel("bad request")
	ErrModelNotSupported = sentinel("model not supported by any enabled provider")
	ErrProviderError     = sentinel("provider error")
	ErrAuthError         = sentinel("auth error")
	ErrParseError        = sentinel("parse error")
)

type sentinelError string

func sentinel(s string) error { return sentinelError(s) }
func (e sentinelError) Error() string { return string(e) }

// --- Usage accounting ---

// UsageRecord is a thin per-call usage accounting event (no billing fields;
// cost/budget tracking is a Non-goal).
type UsageRecord struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	At           time.Time `json:"at"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Authenticator (optional shared API key, spec's sole client-auth Non-goal exception) ---

// Authenticator validates the gateway's own caller credential.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) error
}
