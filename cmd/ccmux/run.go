package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/auth"
	"github.com/ccmux/gateway/internal/cloudauth"
	"github.com/ccmux/gateway/internal/config"
	"github.com/ccmux/gateway/internal/provider"
	"github.com/ccmux/gateway/internal/provider/anthropic"
	"github.com/ccmux/gateway/internal/provider/codex"
	"github.com/ccmux/gateway/internal/provider/gemini"
	"github.com/ccmux/gateway/internal/provider/openai"
	"github.com/ccmux/gateway/internal/router"
	"github.com/ccmux/gateway/internal/server"
	"github.com/ccmux/gateway/internal/telemetry"
	"github.com/ccmux/gateway/internal/tokencount"
	"github.com/ccmux/gateway/internal/worker"
)

// presetBaseURLs gives the provider_type presets spec §4.3's [EXPANSION]
// layers over the Anthropic-Compatible and OpenAI-Chat adapters their
// default base URL; an explicit config base_url always wins.
var presetBaseURLs = map[string]string{
	"z.ai":        "https://api.z.ai/api/anthropic",
	"minimax":     "https://api.minimax.chat/anthropic",
	"zenmux":      "https://zenmux.ai/api/anthropic",
	"kimi-coding": "https://api.moonshot.cn/anthropic",
	"openrouter":  "https://openrouter.ai/api/v1",
	"deepinfra":   "https://api.deepinfra.com/v1/openai",
	"novita":      "https://api.novita.ai/v3/openai",
	"baseten":     "https://inference.baseten.co/v1",
	"together":    "https://api.together.xyz/v1",
	"fireworks":   "https://api.fireworks.ai/inference/v1",
	"groq":        "https://api.groq.com/openai/v1",
	"nebius":      "https://api.studio.nebius.ai/v1",
	"cerebras":    "https://api.cerebras.ai/v1",
	"moonshot":    "https://api.moonshot.cn/v1",
}

// anthropicCompatiblePresets are provider_type presets layered over the
// Anthropic-Compatible adapter rather than the OpenAI-Chat adapter.
var anthropicCompatiblePresets = map[string]bool{
	"z.ai": true, "minimax": true, "zenmux": true, "kimi-coding": true,
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.Info("starting ccmux", "version", version, "addr", cfg.Server.Addr)

	tokenStorePath, err := auth.DefaultTokenStorePath()
	if err != nil {
		return err
	}
	tokenStore, err := auth.NewTokenStore(tokenStorePath)
	if err != nil {
		return err
	}
	slog.Info("oauth token store opened", "path", tokenStorePath)

	oauthClients := map[string]*auth.OAuthClient{
		"anthropic": auth.NewOAuthClient(auth.AnthropicOAuthConfig(), tokenStore),
	}

	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			slog.Info("provider skipped (disabled)", "name", p.Name)
			continue
		}
		prov, err := buildProvider(p, dnsResolver, oauthClients)
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
		if err := reg.Register(p.Name, prov, p.Models); err != nil {
			return err
		}
		slog.Info("provider registered", "name", p.Name, "type", p.ProviderType, "auth", p.AuthType)
	}
	if err := reg.ApplyModelMappings(cfg.ToMappings()); err != nil {
		return err
	}

	var authenticator gateway.Authenticator
	if cfg.Auth.SharedKey != "" {
		authenticator = auth.NewSharedKeyAuth(cfg.Auth.SharedKey)
	}

	rt := router.New(router.Config{
		Default:         cfg.Router.Default,
		Background:      cfg.Router.Background,
		Think:           cfg.Router.Think,
		WebSearch:       cfg.Router.WebSearch,
		AutoMapRegex:    cfg.Router.AutoMapRegex,
		BackgroundRegex: cfg.Router.BackgroundRegex,
	})

	tokenCounter := tokencount.NewCounter()

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var shutdownTracing func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		var err error
		shutdownTracing, err = telemetry.SetupTracing(context.Background(), cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		tracer = telemetry.Tracer("ccmux")
		slog.Info("opentelemetry tracing enabled", "endpoint", cfg.Telemetry.Tracing.Endpoint)
	}

	handler := server.New(server.Deps{
		Auth:           authenticator,
		Providers:      reg,
		Router:         rt,
		TokenCounter:   tokenCounter,
		OAuth:          oauthClients,
		Tokens:         tokenStore,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	runner := worker.NewRunner(worker.NewTokenSweeper(tokenStore, time.Hour))
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("ccmux ready", "addr", cfg.Server.Addr)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	select {
	case <-sigCtx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("ccmux stopped")
	return nil
}

// buildProvider constructs the adapter variant indicated by p.ProviderType
// (spec §4.4's closed set, expanded per §4.3's preset layer over the four
// concrete adapters).
func buildProvider(p gateway.ProviderConfig, resolver *dnscache.Resolver, oauthClients map[string]*auth.OAuthClient) (gateway.Provider, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = presetBaseURLs[p.ProviderType]
	}

	switch {
	case p.ProviderType == "anthropic" || anthropicCompatiblePresets[p.ProviderType]:
		client, err := httpClientFor(p, resolver, "x-api-key", "", oauthClients)
		if err != nil {
			return nil, err
		}
		return anthropic.New(p.Name, baseURL, client, p.Models), nil

	case p.ProviderType == "gemini":
		if p.AuthType == gateway.AuthTypeOAuth {
			oc, ok := oauthClients[p.ProviderType]
			if !ok {
				return nil, fmt.Errorf("no oauth client configured for provider_type %q", p.ProviderType)
			}
			return gemini.NewCodeAssist(p.Name, p.OAuthProvider, oc, resolver, p.Models), nil
		}
		return gemini.NewAPIKey(p.Name, p.APIKey, baseURL, resolver, p.Models), nil

	case p.ProviderType == "vertex-ai":
		return gemini.NewVertex(p.Name, p.APIKey, p.Location, p.ProjectID, resolver, p.Models), nil

	case p.ProviderType == "openai" && (p.AuthType == gateway.AuthTypeOAuth || modelsContainCodex(p.Models)):
		client, err := httpClientFor(p, resolver, "Authorization", "Bearer ", oauthClients)
		if err != nil {
			return nil, err
		}
		return codex.New(p.Name, baseURL, client, p.Models, p.AuthType == gateway.AuthTypeOAuth, codex.DefaultInstructions), nil

	case p.ProviderType == "openai" || presetBaseURLs[p.ProviderType] != "":
		return openai.New(p.Name, p.APIKey, baseURL, resolver, p.Models), nil

	default:
		return nil, fmt.Errorf("unknown provider_type %q", p.ProviderType)
	}
}

func modelsContainCodex(models []string) bool {
	for _, m := range models {
		if strings.Contains(strings.ToLower(m), "codex") {
			return true
		}
	}
	return false
}

// httpClientFor builds an *http.Client whose transport attaches the
// provider's credential: a static API key header for AuthTypeAPIKey, or a
// live OAuth bearer resolved per-request for AuthTypeOAuth (spec §5: "every
// outgoing request asks the Token Store" rather than caching a token on
// the transport).
func httpClientFor(p gateway.ProviderConfig, resolver *dnscache.Resolver, header, prefix string, oauthClients map[string]*auth.OAuthClient) (*http.Client, error) {
	base := provider.NewTransport(resolver, true)

	var transport http.RoundTripper = base
	switch p.AuthType {
	case gateway.AuthTypeAPIKey:
		transport = &cloudauth.APIKeyTransport{Key: p.APIKey, HeaderName: header, Prefix: prefix, Base: base}
	case gateway.AuthTypeOAuth:
		oc, ok := oauthClients[p.ProviderType]
		if !ok {
			return nil, fmt.Errorf("no oauth client configured for provider_type %q", p.ProviderType)
		}
		transport = &cloudauth.OAuthTransport{Source: oc, ProviderID: p.OAuthProvider, Base: base}
	default:
		return nil, fmt.Errorf("unsupported auth_type %q", p.AuthType)
	}
	return &http.Client{Transport: transport}, nil
}
