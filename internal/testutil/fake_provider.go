// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"

	gateway "github.com/ccmux/gateway/internal"
)

// FakeProvider is a configurable gateway.Provider for testing.
type FakeProvider struct {
	ProviderName string
	ModelList    []string

	SendFn        func(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error)
	StreamFn      func(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error)
	CountTokensFn func(ctx context.Context, req *gateway.ChatRequest) (int, error)
	HealthFn      func(ctx context.Context) error
}

var _ gateway.Provider = (*FakeProvider)(nil)

// Name returns the configured provider name.
func (f *FakeProvider) Name() string { return f.ProviderName }

// Supports reports whether model appears in ModelList.
func (f *FakeProvider) Supports(model string) bool {
	for _, m := range f.ModelList {
		if m == model {
			return true
		}
	}
	return false
}

// Send delegates to SendFn or returns a default canonical response.
func (f *FakeProvider) Send(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if f.SendFn != nil {
		return f.SendFn(ctx, req)
	}
	stop := "end_turn"
	return &gateway.ChatResponse{
		ID:         "msg-fake",
		Type:       "message",
		Role:       "assistant",
		Model:      req.Model,
		Content:    []gateway.ContentBlock{{Type: "text", Text: "hello"}},
		StopReason: &stop,
		Usage:      gateway.Usage{InputTokens: 1, OutputTokens: 1},
	}, nil
}

// Stream delegates to StreamFn or returns an error.
func (f *FakeProvider) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	return nil, gateway.ErrProviderError
}

// CountTokens delegates to CountTokensFn or returns a fixed estimate.
func (f *FakeProvider) CountTokens(ctx context.Context, req *gateway.ChatRequest) (int, error) {
	if f.CountTokensFn != nil {
		return f.CountTokensFn(ctx, req)
	}
	return 1, nil
}

// HealthCheck delegates to HealthFn or returns nil.
func (f *FakeProvider) HealthCheck(ctx context.Context) error {
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return nil
}

// FakeStreamChan returns a channel pre-loaded with the given chunks, followed
// by a Done sentinel. The channel is closed after all chunks are sent.
func FakeStreamChan(chunks ...gateway.StreamChunk) <-chan gateway.StreamChunk {
	ch := make(chan gateway.StreamChunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- c
	}
	ch <- gateway.StreamChunk{Done: true}
	close(ch)
	return ch
}
