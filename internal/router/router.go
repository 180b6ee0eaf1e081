// Package router implements the Router (spec §4.5): the priority-ordered
// rule set that rewrites a canonical request's model name before it reaches
// the Provider Registry.
package router

import (
	"log/slog"
	"regexp"

	gateway "github.com/ccmux/gateway/internal"
)

const (
	defaultAutoMapPattern    = `^claude-`
	defaultBackgroundPattern = `(?i)claude.*haiku`
)

var subagentTagRegex = regexp.MustCompile(`<CCM-SUBAGENT-MODEL>(.*?)</CCM-SUBAGENT-MODEL>`)

// Config names the override models for each route type; a zero value means
// "no override configured" and that rule is skipped.
type Config struct {
	Default         string
	Background      string
	Think           string
	WebSearch       string
	AutoMapRegex    string
	BackgroundRegex string
}

// Router rewrites a request's model name according to spec §4.5's
// priority-ordered rule set: auto-map, then websearch, subagent-tag,
// think, background, and finally the (possibly auto-mapped) default.
type Router struct {
	cfg             Config
	autoMapRegex    *regexp.Regexp
	backgroundRegex *regexp.Regexp
}

// New compiles the configured regex patterns, falling back to the built-in
// defaults when a pattern is empty or fails to compile (logging a warning
// in the latter case, matching the tolerant-degrade behavior of the rest
// of the configuration loading path).
func New(cfg Config) *Router {
	return &Router{
		cfg:             cfg,
		autoMapRegex:    compileOrDefault("auto_map_regex", cfg.AutoMapRegex, defaultAutoMapPattern),
		backgroundRegex: compileOrDefault("background_regex", cfg.BackgroundRegex, defaultBackgroundPattern),
	}
}

func compileOrDefault(field, pattern, fallback string) *regexp.Regexp {
	if pattern == "" {
		return regexp.MustCompile(fallback)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("invalid router regex pattern, falling back to default",
			slog.String("field", field), slog.String("pattern", pattern), slog.String("error", err.Error()))
		return regexp.MustCompile(fallback)
	}
	return re
}

// Route applies the priority rules and returns the decision the Front-End
// surfaces to callers. Only the auto-map rule rewrites req.Model in place
// (to the default model); the other rules set the decision alone. req.System's
// second block (if the subagent tag is present) is rewritten to strip the
// tag text.
func (rt *Router) Route(req *gateway.ChatRequest) gateway.RouteDecision {
	originalModel := req.Model

	if rt.autoMapRegex.MatchString(req.Model) && rt.cfg.Default != "" {
		req.Model = rt.cfg.Default
	}

	if rt.cfg.WebSearch != "" && hasWebSearchTool(req) {
		return gateway.RouteDecision{ModelName: rt.cfg.WebSearch, RouteType: gateway.RouteWebSearch}
	}

	if model, ok := extractSubagentModel(req); ok {
		return gateway.RouteDecision{ModelName: model, RouteType: gateway.RouteDefault}
	}

	if rt.cfg.Think != "" && isPlanMode(req) {
		return gateway.RouteDecision{ModelName: rt.cfg.Think, RouteType: gateway.RouteThink}
	}

	if rt.cfg.Background != "" && rt.backgroundRegex.MatchString(originalModel) {
		return gateway.RouteDecision{ModelName: rt.cfg.Background, RouteType: gateway.RouteBackground}
	}

	return gateway.RouteDecision{ModelName: req.Model, RouteType: gateway.RouteDefault}
}

// hasWebSearchTool reports whether any tool's Type starts with "web_search".
func hasWebSearchTool(req *gateway.ChatRequest) bool {
	for _, t := range req.Tools {
		if len(t.Type) >= len("web_search") && t.Type[:len("web_search")] == "web_search" {
			return true
		}
	}
	return false
}

func isPlanMode(req *gateway.ChatRequest) bool {
	return req.Thinking != nil && req.Thinking.Type == "enabled"
}

// extractSubagentModel checks system[1]'s text for a
// <CCM-SUBAGENT-MODEL>...</CCM-SUBAGENT-MODEL> tag, stripping it from the
// text and returning the enclosed model name.
func extractSubagentModel(req *gateway.ChatRequest) (string, bool) {
	if req.System == nil || !req.System.IsBlocks() || len(req.System.Blocks) < 2 {
		return "", false
	}
	block := &req.System.Blocks[1]
	m := subagentTagRegex.FindStringSubmatch(block.Text)
	if m == nil {
		return "", false
	}
	block.Text = subagentTagRegex.ReplaceAllString(block.Text, "")
	return m[1], true
}
