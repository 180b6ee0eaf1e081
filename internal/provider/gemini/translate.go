package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	gateway "github.com/ccmux/gateway/internal"
)

// geminiRequest is the Gemini generateContent request body (shared across
// all three submodes; OAuth/Code-Assist wraps this under a "request" key).
type geminiRequest struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiContent           `json:"system_instruction,omitempty"`
	Tools             []geminiTool             `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig  `json:"generation_config,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiInline   `json:"inline_data,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiTool struct {
	GoogleSearch         json.RawMessage `json:"googleSearch,omitempty"`
	URLContext           json.RawMessage `json:"urlContext,omitempty"`
	FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations,omitempty"`
}

type geminiFuncDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	TopK            int      `json:"top_k"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	StopSequences   []string `json:"stop_sequences,omitempty"`
}

// forbiddenSchemaKeys are JSON-Schema metadata keys Gemini rejects; they are
// stripped recursively from every function declaration's input_schema.
var forbiddenSchemaKeys = map[string]bool{
	"$schema":          true,
	"$id":              true,
	"$ref":             true,
	"$comment":         true,
	"exclusiveMinimum": true,
	"exclusiveMaximum": true,
	"definitions":      true,
	"$defs":            true,
}

// cleanSchema recursively removes forbidden JSON-Schema metadata keys at
// every nesting depth (spec §4.3.4, concrete scenario 5).
func cleanSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	cleaned := cleanSchemaValue(v)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func cleanSchemaValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if forbiddenSchemaKeys[k] {
				continue
			}
			out[k] = cleanSchemaValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cleanSchemaValue(e)
		}
		return out
	default:
		return v
	}
}

// translateRequest converts a canonical ChatRequest into a Gemini
// generateContent request. req.Model drives the lite/flash-lite no-tools rule.
func translateRequest(req *gateway.ChatRequest) *geminiRequest {
	out := &geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            40,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.StopSequences,
		},
	}

	if req.System != nil {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: flattenSystem(req.System)}}}
	}

	for _, m := range req.Messages {
		role := m.Role
		switch role {
		case "assistant":
			role = "model"
		case "user":
			// no change
		default:
			continue // unrecognized roles are dropped
		}
		parts := translateContentParts(m.Content)
		if len(parts) == 0 {
			continue
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: parts})
	}

	if !modelExcludesTools(req.Model) {
		out.Tools = translateTools(req.Tools)
	}

	return out
}

func flattenSystem(s *gateway.SystemPrompt) string {
	if !s.IsBlocks() {
		return s.Text
	}
	var b strings.Builder
	for i, blk := range s.Blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(blk.Text)
	}
	return b.String()
}

// translateContentParts converts canonical content blocks into Gemini
// parts. Text becomes {text}; Image becomes {inline_data}; Thinking becomes
// a text part; ToolUse/ToolResult are dropped (Gemini has no equivalent
// round-trip slot in this simplified translation).
func translateContentParts(c gateway.MessageContent) []geminiPart {
	if !c.IsBlocks() {
		if c.Text == "" {
			return nil
		}
		return []geminiPart{{Text: c.Text}}
	}

	var parts []geminiPart
	for _, blk := range c.Blocks {
		switch blk.Type {
		case "text", "thinking":
			text := blk.Text
			if blk.Type == "thinking" {
				text = blk.Thinking
			}
			if text != "" {
				parts = append(parts, geminiPart{Text: text})
			}
		case "image":
			if blk.Source != nil {
				parts = append(parts, geminiPart{InlineData: &geminiInline{
					MimeType: blk.Source.MediaType,
					Data:     blk.Source.Data,
				}})
			}
		case "tool_use", "tool_result":
			// dropped
		}
	}
	return parts
}

func modelExcludesTools(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "lite") || strings.Contains(lower, "flash-lite")
}

// translateTools maps canonical tools into Gemini's native search/fetch
// tools or function declarations, per spec §4.3.4.
func translateTools(tools []gateway.Tool) []geminiTool {
	var (
		out    []geminiTool
		decls  []geminiFuncDecl
	)
	for _, t := range tools {
		switch t.Name {
		case "WebSearch":
			out = append(out, geminiTool{GoogleSearch: json.RawMessage("{}")})
		case "WebFetch":
			out = append(out, geminiTool{URLContext: json.RawMessage("{}")})
		default:
			decls = append(decls, geminiFuncDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  cleanSchema(t.InputSchema),
			})
		}
	}
	if len(decls) > 0 {
		out = append(out, geminiTool{FunctionDeclarations: decls})
	}
	return out
}

// geminiResponse is the generateContent response envelope.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// translateResponse converts a Gemini generateContent JSON body into a
// canonical ChatResponse. id is synthesized by the caller (ms-epoch is not
// computable here since time.Now()-derived IDs are the caller's concern).
func translateResponse(data []byte, id, model string) (*gateway.ChatResponse, error) {
	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: gemini: decode response: %v", gateway.ErrParseError, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: gemini: response has no candidates", gateway.ErrParseError)
	}
	cand := resp.Candidates[0]

	var blocks []gateway.ContentBlock
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			blocks = append(blocks, gateway.ContentBlock{Type: "text", Text: p.Text})
		}
	}

	var stopReason *string
	switch cand.FinishReason {
	case "STOP":
		s := "end_turn"
		stopReason = &s
	case "MAX_TOKENS":
		s := "max_tokens"
		stopReason = &s
	}

	return &gateway.ChatResponse{
		ID:      id,
		Type:    "message",
		Role:    "assistant",
		Content: blocks,
		Model:   model,
		StopReason: stopReason,
		Usage: gateway.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}
