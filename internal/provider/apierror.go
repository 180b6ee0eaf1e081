// Package provider contains shared utilities for LLM provider adapters:
// the Provider Registry, a tuned shared HTTP transport/forwarding helper,
// and upstream API error parsing.
package provider

import (
	"io"
	"net/http"

	gateway "github.com/ccmux/gateway/internal"
)

// ParseAPIError reads up to 4KB from resp's body and returns a typed
// gateway.APIError. A 404 is re-wrapped with a hint that the model name may
// be a preview/unavailable variant, per spec's error taxonomy.
func ParseAPIError(providerName string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := string(body)
	if resp.StatusCode == http.StatusNotFound {
		text += " (hint: the model name may be a preview or unavailable variant)"
	}
	return &gateway.APIError{Provider: providerName, StatusCode: resp.StatusCode, Body: text}
}
