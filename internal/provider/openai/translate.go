package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	gateway "github.com/ccmux/gateway/internal"
)

// openaiRequest is the OpenAI chat/completions wire request.
type openaiRequest struct {
	Model         string          `json:"model"`
	Messages      []openaiMessage `json:"messages"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stop          []string        `json:"stop,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
	Tools         []openaiTool    `json:"tools,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    *openaiContent   `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// openaiContent is OpenAI chat/completions' dual-shaped message content: a
// plain string for single-part text, or an array of typed parts ("text",
// "image_url") once a message carries more than one part. Mirrors
// gateway.MessageContent's Text/Blocks variant pattern.
type openaiContent struct {
	Text  string
	Parts []openaiContentPart
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

func textContent(s string) *openaiContent {
	return &openaiContent{Text: s}
}

func (c openaiContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *openaiContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil
		return nil
	}
	var parts []openaiContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Parts = parts
	return nil
}

// plainText concatenates any text parts with newlines, or returns Text
// verbatim when the content was the plain-string variant.
func (c openaiContent) plainText() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type != "text" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolCallFunc `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// openaiResponse is the non-streaming chat/completions wire response.
type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message      openaiRespMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openaiRespMessage struct {
	Content   openaiContent    `json:"content"`
	Reasoning string           `json:"reasoning,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// translateRequest converts a canonical Anthropic-shaped request into the
// OpenAI chat/completions wire shape. System content is flattened into a
// single leading system-role message; tool_use/tool_result blocks become
// assistant tool_calls and tool-role messages respectively; thinking blocks
// are dropped since chat/completions has no equivalent input slot.
func translateRequest(req *gateway.ChatRequest) (*openaiRequest, error) {
	out := &openaiRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}

	if req.System != nil {
		text := flattenSystem(req.System)
		if text != "" {
			out.Messages = append(out.Messages, openaiMessage{Role: "system", Content: textContent(text)})
		}
	}

	for _, m := range req.Messages {
		msgs, err := translateMessage(m)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return out, nil
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

// translateMessage may expand a single Anthropic message into multiple
// OpenAI messages: a tool_result block always becomes its own trailing
// tool-role message, since OpenAI has no concept of mixed user/tool content
// within a single message.
func translateMessage(m gateway.Message) ([]openaiMessage, error) {
	if !m.Content.IsBlocks() {
		return []openaiMessage{{Role: m.Role, Content: textContent(m.Content.Text)}}, nil
	}

	var (
		out        []openaiMessage
		textParts  []string
		toolCalls  []openaiToolCall
		imageParts []openaiContentPart
	)

	for _, blk := range m.Content.Blocks {
		switch blk.Type {
		case "text":
			textParts = append(textParts, blk.Text)
		case "thinking":
			// No OpenAI chat/completions input slot for reasoning traces; dropped.
		case "tool_use":
			args := blk.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, openaiToolCall{
				ID:   blk.ID,
				Type: "function",
				Function: openaiToolCallFunc{
					Name:      blk.Name,
					Arguments: string(args),
				},
			})
		case "tool_result":
			content := stringifyToolResult(blk.Content)
			out = append(out, openaiMessage{Role: "tool", Content: textContent(content), ToolCallID: blk.ToolUseID})
		case "image":
			part, err := imageContentPart(blk.Source)
			if err != nil {
				return nil, err
			}
			imageParts = append(imageParts, part)
		default:
			return nil, fmt.Errorf("%w: openai: unsupported content block type %q", gateway.ErrBadRequest, blk.Type)
		}
	}

	if len(textParts) > 0 || len(toolCalls) > 0 || len(imageParts) > 0 {
		text := strings.Join(textParts, "\n")
		msg := openaiMessage{Role: m.Role, ToolCalls: toolCalls}
		switch {
		case len(imageParts) > 0:
			var parts []openaiContentPart
			if text != "" {
				parts = append(parts, openaiContentPart{Type: "text", Text: text})
			}
			parts = append(parts, imageParts...)
			msg.Content = &openaiContent{Parts: parts}
		case text != "" || len(toolCalls) == 0:
			msg.Content = textContent(text)
		}
		// tool_calls must precede the tool-role replies that answer them.
		out = append([]openaiMessage{msg}, out...)
	}

	return out, nil
}

// imageContentPart renders a canonical image block as an OpenAI
// image_url content part: a URL source passes through verbatim, a base64
// source becomes a data: URL (spec §4.3.1).
func imageContentPart(src *gateway.ImageSource) (openaiContentPart, error) {
	if src == nil {
		return openaiContentPart{}, fmt.Errorf("%w: openai: image block missing source", gateway.ErrBadRequest)
	}
	var url string
	switch src.Type {
	case "url":
		url = src.URL
	case "base64":
		url = fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
	default:
		return openaiContentPart{}, fmt.Errorf("%w: openai: unsupported image source type %q", gateway.ErrBadRequest, src.Type)
	}
	return openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: url}}, nil
}

func stringifyToolResult(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(content, &s) == nil {
		return s
	}
	return string(content)
}

// translateResponse converts an OpenAI chat/completions response body into
// a canonical Anthropic-shaped ChatResponse. finish_reason is carried
// through verbatim rather than remapped into Anthropic's stop_reason
// vocabulary, so clients see the upstream's own terminology.
func translateResponse(body []byte) (*gateway.ChatResponse, error) {
	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: openai: decode response: %v", gateway.ErrParseError, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai: response has no choices", gateway.ErrParseError)
	}
	choice := resp.Choices[0]

	var blocks []gateway.ContentBlock
	text := choice.Message.Content.plainText()
	if text == "" {
		text = choice.Message.Reasoning
	}
	if text != "" {
		blocks = append(blocks, gateway.ContentBlock{Type: "text", Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, gateway.ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	var stopReason *string
	if choice.FinishReason != "" {
		fr := choice.FinishReason
		stopReason = &fr
	}

	return &gateway.ChatResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      resp.Model,
		StopReason: stopReason,
		Usage: gateway.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
