package gemini

import (
	"bufio"
	"io"

	gateway "github.com/ccmux/gateway/internal"
)

// passthroughStream forwards Gemini's streamGenerateContent SSE bytes to
// the client unchanged, per spec §4.3.4 ("raw bytes are forwarded to the
// client unchanged"). Gemini's stream has no event: field and is
// EOF-terminated rather than using a [DONE] sentinel.
func passthroughStream(body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		out := make([]byte, len(line)+1)
		copy(out, line)
		out[len(line)] = '\n'
		ch <- gateway.StreamChunk{Data: out}
	}
	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: err}
		return
	}
	ch <- gateway.StreamChunk{Done: true}
}
