package router

import (
	"testing"

	gateway "github.com/ccmux/gateway/internal"
)

func testConfig() Config {
	return Config{
		Default:    "default.model",
		Background: "background.model",
		Think:      "think.model",
		WebSearch:  "websearch.model",
	}
}

func simpleRequest(model string) *gateway.ChatRequest {
	return &gateway.ChatRequest{
		Model:     model,
		MaxTokens: 1024,
		Messages:  []gateway.Message{{Role: "user", Content: gateway.MessageContent{Text: "hi"}}},
	}
}

func TestPlanModeRoutesToThink(t *testing.T) {
	t.Parallel()
	rt := New(testConfig())

	req := simpleRequest("claude-opus-4")
	budget := 10000
	req.Thinking = &gateway.ThinkingConfig{Type: "enabled", BudgetTokens: &budget}

	d := rt.Route(req)
	if d.RouteType != gateway.RouteThink || d.ModelName != "think.model" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestBackgroundTaskDetection(t *testing.T) {
	t.Parallel()
	rt := New(testConfig())

	req := simpleRequest("claude-3-5-haiku-20241022")
	d := rt.Route(req)
	if d.RouteType != gateway.RouteBackground || d.ModelName != "background.model" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDefaultRoutingWhenBackgroundDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Background = ""
	rt := New(cfg)

	d := rt.Route(simpleRequest("claude-sonnet"))
	if d.RouteType != gateway.RouteDefault || d.ModelName != "default.model" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestWebSearchHasHighestPriorityOverThink(t *testing.T) {
	t.Parallel()
	rt := New(testConfig())

	req := simpleRequest("claude-opus-4")
	budget := 10000
	req.Thinking = &gateway.ThinkingConfig{Type: "enabled", BudgetTokens: &budget}
	req.Tools = []gateway.Tool{{Type: "web_search_2025_04", Name: "web_search"}}

	d := rt.Route(req)
	if d.RouteType != gateway.RouteWebSearch || d.ModelName != "websearch.model" {
		t.Fatalf("expected websearch to win, got %+v", d)
	}
}

func TestAutoMapDefaultClaudePattern(t *testing.T) {
	t.Parallel()
	rt := New(testConfig())

	d := rt.Route(simpleRequest("claude-3-5-sonnet-20241022"))
	if d.RouteType != gateway.RouteDefault || d.ModelName != "default.model" {
		t.Fatalf("expected auto-map to default model, got %+v", d)
	}
}

func TestAutoMapCustomRegex(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AutoMapRegex = "^(claude-|gpt-)"
	rt := New(cfg)

	d := rt.Route(simpleRequest("gpt-4"))
	if d.RouteType != gateway.RouteDefault || d.ModelName != "default.model" {
		t.Fatalf("expected custom auto-map to default model, got %+v", d)
	}
}

func TestNoAutoMapForNonMatchingModel(t *testing.T) {
	t.Parallel()
	rt := New(testConfig())

	d := rt.Route(simpleRequest("glm-4.6"))
	if d.RouteType != gateway.RouteDefault || d.ModelName != "glm-4.6" {
		t.Fatalf("expected unmapped model name preserved, got %+v", d)
	}
}

func TestSubagentTagExtractedAndStripped(t *testing.T) {
	t.Parallel()
	rt := New(testConfig())

	req := simpleRequest("claude-opus-4")
	req.System = &gateway.SystemPrompt{Blocks: []gateway.SystemBlock{
		{Text: "base instructions"},
		{Text: "extra context <CCM-SUBAGENT-MODEL>gpt-4o</CCM-SUBAGENT-MODEL> trailer"},
	}}

	d := rt.Route(req)
	if d.RouteType != gateway.RouteDefault || d.ModelName != "gpt-4o" {
		t.Fatalf("expected subagent model routed, got %+v", d)
	}
	if req.System.Blocks[1].Text != "extra context  trailer" {
		t.Fatalf("expected tag stripped from system block, got %q", req.System.Blocks[1].Text)
	}
}

func TestInvalidRegexFallsBackToDefault(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AutoMapRegex = "(unclosed"
	rt := New(cfg)

	d := rt.Route(simpleRequest("claude-3-5-sonnet-20241022"))
	if d.ModelName != "default.model" {
		t.Fatalf("expected fallback to default claude pattern, got %+v", d)
	}
}
