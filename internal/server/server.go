// Package server implements the HTTP transport layer for the gateway:
// the Anthropic-shaped Front-End plus the OpenAI chat/completions shim,
// the OAuth façade, and the system/observability endpoints (spec §4.6).
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/auth"
	"github.com/ccmux/gateway/internal/provider"
	"github.com/ccmux/gateway/internal/router"
	"github.com/ccmux/gateway/internal/telemetry"
	"github.com/ccmux/gateway/internal/tokencount"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server. Auth may be nil, which
// disables the shared-key gate entirely. Providers, Router and TokenCounter
// are required for the Front-End routes to function; OAuth, Tokens,
// Metrics, MetricsHandler, Tracer and ReadyCheck may be left nil.
type Deps struct {
	Auth           gateway.Authenticator // nil = no shared-key gate
	Providers      *provider.Registry
	Router         *router.Router
	TokenCounter   *tokencount.Counter
	OAuth          map[string]*auth.OAuthClient // keyed by provider_type
	Tokens         *auth.TokenStore             // backs GET /api/oauth/tokens
	Metrics        *telemetry.Metrics           // nil = no Prometheus metrics
	MetricsHandler http.Handler                 // nil = no /metrics endpoint
	Tracer         trace.Tracer                 // nil = no distributed tracing
	ReadyCheck     ReadyChecker                 // nil = always ready
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	// System endpoints (no auth).
	r.Get("/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(s.authenticate)
		}

		r.Post("/v1/messages", s.handleMessages)
		r.Post("/v1/messages/count_tokens", s.handleCountTokens)
		r.Post("/v1/chat/completions", s.handleChatCompletionsShim)

		r.Get("/api/models", s.handleListModels)
		r.Get("/api/providers", s.handleListProviders)

		r.Route("/api/oauth", func(r chi.Router) {
			r.Post("/authorize", s.handleOAuthAuthorize)
			r.Post("/exchange", s.handleOAuthExchange)
			r.Get("/callback", s.handleOAuthCallback)
			r.Post("/tokens/refresh", s.handleOAuthRefresh)
			r.Post("/tokens/delete", s.handleOAuthDelete)
			r.Get("/tokens", s.handleOAuthTokens)
			r.Post("/create_api_key", s.handleOAuthCreateAPIKey)
		})
	})

	return r
}

type server struct {
	deps Deps
}
