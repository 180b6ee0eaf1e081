// Package tokencount provides the gateway's own token estimate for the
// POST /v1/messages/count_tokens endpoint (spec §4.6), independent of any
// upstream provider's native counting. Uses a character-based heuristic
// (~4 chars per token for English), which is sufficient for an estimate
// endpoint that every provider adapter can serve without a network round
// trip -- exact tokenizer parity with any one upstream is not a goal.
package tokencount

import (
	gateway "github.com/ccmux/gateway/internal"
)

// Counter estimates token counts for canonical chat requests.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateRequest estimates the total input token count for req, covering
// the system prompt, every message's text/thinking/tool blocks, and the
// tool definitions offered.
func (c *Counter) EstimateRequest(req *gateway.ChatRequest) int {
	total := 0
	if req.System != nil {
		if req.System.IsBlocks() {
			for _, b := range req.System.Blocks {
				total += estimateTokens(b.Text)
			}
		} else {
			total += estimateTokens(req.System.Text)
		}
	}
	for _, m := range req.Messages {
		total += 4 // per-message role/formatting overhead
		total += estimateTokens(m.Role)
		total += estimateContent(m.Content)
	}
	for _, t := range req.Tools {
		total += estimateTokens(t.Name) + estimateTokens(t.Description)
		total += estimateTokens(string(t.InputSchema))
	}
	return max(total, 1)
}

func estimateContent(c gateway.MessageContent) int {
	if !c.IsBlocks() {
		return estimateTokens(c.Text)
	}
	total := 0
	for _, b := range c.Blocks {
		switch b.Type {
		case "text":
			total += estimateTokens(b.Text)
		case "thinking":
			total += estimateTokens(b.Thinking)
		case "tool_use":
			total += estimateTokens(b.Name) + estimateTokens(string(b.Input))
		case "tool_result":
			total += estimateTokens(string(b.Content))
		case "image":
			total += 256 // flat estimate; exact vision tokenization is provider-specific
		}
	}
	return total
}

// estimateTokens uses a ~4 characters per token heuristic, a reasonable
// approximation for English text across GPT/Claude/Gemini-family tokenizers.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
