package sseutil

import "encoding/json"

// frame renders an Anthropic-shaped SSE record: "event: <name>\ndata: <json>\n\n".
func frame(event string, payload map[string]any) []byte {
	payload["type"] = event
	data, _ := json.Marshal(payload)
	b := make([]byte, 0, len(event)+len(data)+16)
	b = append(b, "event: "...)
	b = append(b, event...)
	b = append(b, '\n')
	b = append(b, "data: "...)
	b = append(b, data...)
	b = append(b, '\n', '\n')
	return b
}

// MessageStart builds the opening frame of an Anthropic message stream.
func MessageStart(id, model string) []byte {
	return frame("message_start", map[string]any{
		"message": map[string]any{
			"id":            id,
			"type":          "message",
			"role":          "assistant",
			"content":       []any{},
			"model":         model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

// ContentBlockStart opens a content block at index with the given block type ("text", "tool_use" or "thinking").
func ContentBlockStart(index int, blockType string, extra map[string]any) []byte {
	block := map[string]any{"type": blockType}
	for k, v := range extra {
		block[k] = v
	}
	return frame("content_block_start", map[string]any{
		"index":         index,
		"content_block": block,
	})
}

// TextDelta emits a text_delta for the content block at index.
func TextDelta(index int, text string) []byte {
	return frame("content_block_delta", map[string]any{
		"index": index,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

// ThinkingDelta emits a thinking_delta for the content block at index.
func ThinkingDelta(index int, thinking string) []byte {
	return frame("content_block_delta", map[string]any{
		"index": index,
		"delta": map[string]any{"type": "thinking_delta", "thinking": thinking},
	})
}

// InputJSONDelta emits a partial_json delta for a tool_use block at index.
func InputJSONDelta(index int, partialJSON string) []byte {
	return frame("content_block_delta", map[string]any{
		"index": index,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": partialJSON},
	})
}

// ContentBlockStop closes the content block at index.
func ContentBlockStop(index int) []byte {
	return frame("content_block_stop", map[string]any{"index": index})
}

// MessageDelta carries the terminal stop_reason and cumulative usage.
func MessageDelta(stopReason string, outputTokens int) []byte {
	var sr any
	if stopReason != "" {
		sr = stopReason
	}
	return frame("message_delta", map[string]any{
		"delta": map[string]any{"stop_reason": sr, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": outputTokens},
	})
}

// MessageStop closes the message stream.
func MessageStop() []byte {
	return frame("message_stop", map[string]any{})
}

// Ping emits a keep-alive ping frame.
func Ping() []byte {
	return frame("ping", map[string]any{})
}
