package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gateway "github.com/ccmux/gateway/internal"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (4 MB).
const maxRequestBody = 4 << 20

// decodeRequestBody reads the request body via bodyPool, unmarshals JSON into
// v, and returns false (writing a 400) on error. Parse errors are logged
// server-side; clients receive a static message to avoid leaking internals.
func decodeRequestBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		bodyPool.Put(buf)
		slog.LogAttrs(r.Context(), slog.LevelWarn, "request decode error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	bodyPool.Put(buf)
	return true
}

// handleMessages implements POST /v1/messages: decode -> route -> resolve
// adapter by the route decision's model_name -> call adapter (spec §4.6).
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}

	decision := s.deps.Router.Route(&req)
	req.Model = decision.ModelName

	p, err := s.deps.Providers.GetProviderForModel(decision.ModelName)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	if req.Stream {
		s.handleMessagesStream(w, r, p, &req)
		return
	}

	start := time.Now()
	resp, err := p.Send(r.Context(), &req)
	elapsed := time.Since(start)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	if s.deps.Metrics != nil && resp.Usage != (gateway.Usage{}) {
		s.deps.Metrics.TokensProcessed.WithLabelValues(req.Model, "input").Add(float64(resp.Usage.InputTokens))
		s.deps.Metrics.TokensProcessed.WithLabelValues(req.Model, "output").Add(float64(resp.Usage.OutputTokens))
	}
	slog.LogAttrs(r.Context(), slog.LevelInfo, "message completed",
		slog.String("model", req.Model),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	writeJSON(w, http.StatusOK, resp)
}

// handleCountTokens implements POST /v1/messages/count_tokens: an estimate
// computed locally rather than routed to an upstream adapter, since the
// token counter is a flat heuristic independent of which provider would
// ultimately serve the model (spec §4.6).
func (s *server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	count := s.deps.TokenCounter.EstimateRequest(&req)
	writeJSON(w, http.StatusOK, countTokensResponse{InputTokens: count})
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// handleMessagesStream proxies an SSE stream from the resolved adapter to
// the client, writing an SSE keep-alive comment every 15 seconds while the
// stream is open.
func (s *server) handleMessagesStream(w http.ResponseWriter, r *http.Request, p gateway.Provider, req *gateway.ChatRequest) {
	ch, err := p.Stream(r.Context(), req)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, chOpen := <-ch:
			if !chOpen {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("error", chunk.Err.Error()),
				)
				writeSSEError(w, "upstream stream error")
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Done {
				writeSSEDone(w)
				flusher.Flush()
				if s.deps.Metrics != nil && chunk.Usage != nil {
					s.deps.Metrics.TokensProcessed.WithLabelValues(req.Model, "output").Add(float64(chunk.Usage.OutputTokens))
				}
				return
			}
			if len(chunk.Data) > 0 {
				writeSSEData(w, chunk.Data)
				flusher.Flush()
			}
		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// errBody is the spec §7 client-facing error envelope: the "type" field is
// always the literal "error"; distinguishing information (sentinel kind,
// upstream status) lives in the message text and the HTTP status code.
type errBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorResponse(msg string) errBody {
	var e errBody
	e.Error.Type = "error"
	e.Error.Message = msg
	return e
}

// writeUpstreamError logs the full error server-side. Unlike a generic
// client error, *gateway.APIError and *gateway.AuthError carry real upstream
// status/body information that the client needs to act on (which provider
// failed, what it said) -- spec §7 requires these be forwarded rather than
// sanitized to a generic status text. A bare ErrParseError (no upstream
// response to report) gets a generic message only.
func writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	status := errorStatus(err)
	slog.LogAttrs(ctx, slog.LevelError, "upstream error",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, status, errorResponse(apiErr.Error()))
		return
	}
	var authErr *gateway.AuthError
	if errors.As(err, &authErr) {
		writeJSON(w, status, errorResponse(authErr.Error()))
		return
	}
	if errors.Is(err, gateway.ErrParseError) {
		writeJSON(w, status, errorResponse(http.StatusText(status)))
		return
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

func errorStatus(err error) int {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus()
	}
	var authErr *gateway.AuthError
	if errors.As(err, &authErr) {
		if authErr.Status != 0 {
			return authErr.Status
		}
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrModelNotSupported):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrAuthError):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrParseError):
		return http.StatusInternalServerError
	case errors.Is(err, gateway.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
