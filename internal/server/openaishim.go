package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gateway "github.com/ccmux/gateway/internal"
	"github.com/ccmux/gateway/internal/provider/sseutil"
)

// shimRequest is the inbound OpenAI chat/completions wire request (spec
// §4.6's "OpenAI shim"). Mirrors internal/provider/openai/translate.go's
// wire types, but in the reverse direction: these decode an OpenAI-shaped
// client request into the canonical gateway.ChatRequest.
type shimRequest struct {
	Model       string        `json:"model"`
	Messages    []shimMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []shimTool    `json:"tools,omitempty"`
}

type shimMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type shimTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// toCanonicalRequest converts an inbound OpenAI-shaped request into the
// canonical ChatRequest. Any "system" role message sets the canonical
// System field (a later one replaces an earlier one); every other message
// becomes a plain-text Message.
func (req *shimRequest) toCanonicalRequest() *gateway.ChatRequest {
	out := &gateway.ChatRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			out.System = &gateway.SystemPrompt{Text: m.Content}
			continue
		}
		out.Messages = append(out.Messages, gateway.Message{
			Role:    m.Role,
			Content: gateway.MessageContent{Text: m.Content},
		})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, gateway.Tool{
			Type:        "function",
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return out
}

type shimResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []shimChoice `json:"choices"`
	Usage   shimUsage    `json:"usage"`
}

type shimChoice struct {
	Index        int               `json:"index"`
	Message      shimRespMessage   `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type shimRespMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type shimUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// fromCanonicalResponse converts a canonical ChatResponse into the OpenAI
// chat/completions wire response. Only text content is carried through;
// tool_use blocks have no faithful chat/completions analogue here since
// the inbound shim itself never emits tool-call requests.
func fromCanonicalResponse(resp *gateway.ChatResponse) shimResponse {
	var text strings.Builder
	for _, blk := range resp.Content {
		if blk.Type == "text" {
			text.WriteString(blk.Text)
		}
	}
	finish := "stop"
	if resp.StopReason != nil {
		finish = *resp.StopReason
	}
	return shimResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []shimChoice{{
			Message:      shimRespMessage{Role: "assistant", Content: text.String()},
			FinishReason: finish,
		}},
		Usage: shimUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// handleChatCompletionsShim implements POST /v1/chat/completions: the
// OpenAI-shaped inbound compatibility surface. It translates into the
// canonical request, routes and dispatches exactly like /v1/messages, then
// translates the canonical result back into OpenAI's wire shape.
func (s *server) handleChatCompletionsShim(w http.ResponseWriter, r *http.Request) {
	var body shimRequest
	if !decodeRequestBody(w, r, &body) {
		return
	}
	req := body.toCanonicalRequest()

	decision := s.deps.Router.Route(req)
	req.Model = decision.ModelName

	p, err := s.deps.Providers.GetProviderForModel(decision.ModelName)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	if req.Stream {
		s.handleChatCompletionsShimStream(w, r, p, req)
		return
	}

	resp, err := p.Send(r.Context(), req)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, fromCanonicalResponse(resp))
}

// shimDeltaChunk is one OpenAI chat/completions streaming chunk.
type shimDeltaChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Model   string           `json:"model"`
	Choices []shimDeltaChoice `json:"choices"`
}

type shimDeltaChoice struct {
	Index        int       `json:"index"`
	Delta        shimDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

type shimDelta struct {
	Content string `json:"content,omitempty"`
}

// handleChatCompletionsShimStream re-frames the canonical Anthropic SSE
// event stream as OpenAI chat/completions delta chunks. Each canonical
// content_block_delta text_delta becomes one OpenAI delta chunk; other
// canonical event types (message_start, content_block_start/stop, ping)
// carry no OpenAI analogue and are dropped.
func (s *server) handleChatCompletionsShimStream(w http.ResponseWriter, r *http.Request, p gateway.Provider, req *gateway.ChatRequest) {
	ch, err := p.Stream(r.Context(), req)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	flusher.Flush()

	id := fmt.Sprintf("chatcmpl-%s", gateway.RequestIDFromContext(r.Context()))
	for chunk := range ch {
		if chunk.Err != nil || chunk.Done {
			break
		}
		text, isDelta := extractTextDelta(chunk.Data)
		if !isDelta {
			continue
		}
		out := shimDeltaChunk{
			ID: id, Object: "chat.completion.chunk", Model: req.Model,
			Choices: []shimDeltaChoice{{Delta: shimDelta{Content: text}}},
		}
		data, _ := json.Marshal(out)
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write(sseNewline)
		flusher.Flush()
	}
	writeSSEDone(w)
	flusher.Flush()
}

// extractTextDelta scans a single canonical SSE record for a
// content_block_delta event carrying a text_delta, returning its text.
func extractTextDelta(frame []byte) (string, bool) {
	scanner := sseutil.NewScanner(bytes.NewReader(frame))
	var dataLine string
	for scanner.Scan() {
		_, data, ok := sseutil.ParseSSELine(scanner.Text())
		if ok && data != "" {
			dataLine = data
		}
	}
	if dataLine == "" {
		return "", false
	}
	var payload struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(dataLine), &payload); err != nil {
		return "", false
	}
	if payload.Type != "content_block_delta" || payload.Delta.Type != "text_delta" {
		return "", false
	}
	return payload.Delta.Text, true
}
