package codex

import (
	"strings"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/provider/sseutil"
)

// responsesRequest is the OpenAI-Responses wire request, restricted to the
// fields Codex actually expects; max_output_tokens/temperature/top_p/stop
// are deliberately omitted (spec §4.3.2).
type responsesRequest struct {
	Model        string             `json:"model"`
	Input        []responsesMessage `json:"input"`
	Instructions string             `json:"instructions"`
	Store        bool               `json:"store"`
	Stream       bool               `json:"stream"`
}

type responsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// translateRequest builds a Codex Responses request: the system prompt (if
// any) is prepended as a user-role entry, since the Responses input array
// has no separate system role; each canonical message is flattened to its
// text content. store is always false and stream is always true.
func translateRequest(req *gateway.ChatRequest, instructions string) *responsesRequest {
	out := &responsesRequest{
		Model:        req.Model,
		Instructions: instructions,
		Store:        false,
		Stream:       true,
	}

	if req.System != nil {
		text := flattenSystem(req.System)
		out.Input = append(out.Input, responsesMessage{Role: "user", Content: text})
	}

	for _, m := range req.Messages {
		out.Input = append(out.Input, responsesMessage{Role: m.Role, Content: flattenMessageText(m)})
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
			b.WriteString("\n")
		}
		b.WriteString(blk.Text)
	}
	return b.String()
}

func flattenMessageText(m gateway.Message) string {
	if !m.Content.IsBlocks() {
		return m.Content.Text
	}
	var parts []string
	for _, blk := range m.Content.Blocks {
		if blk.Type == "text" {
			parts = append(parts, blk.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// emitBlocksAsStream renders a complete set of content blocks as a burst of
// Anthropic-shaped SSE frames, since the Codex response has no true
// incremental delta protocol to translate.
func emitBlocksAsStream(model string, blocks []gateway.ContentBlock, ch chan<- gateway.StreamChunk) {
	ch <- gateway.StreamChunk{Data: sseutil.MessageStart("", model)}
	for i, blk := range blocks {
		switch blk.Type {
		case "thinking":
			ch <- gateway.StreamChunk{Data: sseutil.ContentBlockStart(i, "thinking", nil)}
			ch <- gateway.StreamChunk{Data: sseutil.ThinkingDelta(i, blk.Thinking)}
			ch <- gateway.StreamChunk{Data: sseutil.ContentBlockStop(i)}
		case "text":
			ch <- gateway.StreamChunk{Data: sseutil.ContentBlockStart(i, "text", nil)}
			ch <- gateway.StreamChunk{Data: sseutil.TextDelta(i, blk.Text)}
			ch <- gateway.StreamChunk{Data: sseutil.ContentBlockStop(i)}
		}
	}
	ch <- gateway.StreamChunk{Data: sseutil.MessageDelta("end_turn", 0)}
	ch <- gateway.StreamChunk{Data: sseutil.MessageStop()}
	ch <- gateway.StreamChunk{Done: true}
}
