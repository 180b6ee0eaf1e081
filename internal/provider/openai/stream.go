package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/provider/sseutil"
)

// streamChunk is a single OpenAI chat/completions streaming delta.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

// translateStream reads OpenAI SSE chunks from resp.Body and emits
// Anthropic-shaped SSE frames on ch, so downstream clients that only
// understand the Anthropic event grammar can consume any OpenAI-backed
// model uniformly.
func translateStream(ctx context.Context, resp *http.Response, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	const textBlockIndex = 0
	var (
		messageStarted bool
		textStarted    bool
		toolStarted    = make(map[int]bool)
		toolIndexBase  = 1 // content block indices for tool calls start after the text block
		outputTokens   int
		finishReason   string
	)

	send := func(data []byte) bool {
		select {
		case ch <- gateway.StreamChunk{Data: data}:
			return true
		case <-ctx.Done():
			ch <- gateway.StreamChunk{Err: ctx.Err()}
			return false
		}
	}

	scanner := sseutil.NewScanner(resp.Body)
	for scanner.Scan() {
		_, data, ok := sseutil.ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			outputTokens = chunk.Usage.CompletionTokens
		}
		if !messageStarted {
			messageStarted = true
			if !send(sseutil.MessageStart(chunk.ID, chunk.Model)) {
				return
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !textStarted {
				textStarted = true
				if !send(sseutil.ContentBlockStart(textBlockIndex, "text", nil)) {
					return
				}
			}
			if !send(sseutil.TextDelta(textBlockIndex, choice.Delta.Content)) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			blockIndex := toolIndexBase + tc.Index
			if !toolStarted[tc.Index] {
				toolStarted[tc.Index] = true
				if !send(sseutil.ContentBlockStart(blockIndex, "tool_use", map[string]any{
					"id":   tc.ID,
					"name": tc.Function.Name,
				})) {
					return
				}
			}
			if tc.Function.Arguments != "" {
				if !send(sseutil.InputJSONDelta(blockIndex, tc.Function.Arguments)) {
					return
				}
			}
		}

		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: fmt.Errorf("openai: read stream: %w", err)}
		return
	}

	if textStarted {
		if !send(sseutil.ContentBlockStop(textBlockIndex)) {
			return
		}
	}
	for idx := range toolStarted {
		if !send(sseutil.ContentBlockStop(toolIndexBase + idx)) {
			return
		}
	}
	if !send(sseutil.MessageDelta(finishReason, outputTokens)) {
		return
	}
	if !send(sseutil.MessageStop()) {
		return
	}
	ch <- gateway.StreamChunk{Done: true, Usage: &gateway.Usage{OutputTokens: outputTokens}}
}
