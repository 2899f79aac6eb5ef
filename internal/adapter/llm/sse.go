package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"easel-ai/internal/domain"
)

// textChunk is one normalized slice of a vendor stream: raw response text,
// filtered thinking text, and/or terminal metadata.
type textChunk struct {
	Text       string
	Thinking   string
	Done       bool
	Usage      *domain.Usage
	Cache      *domain.CacheMetrics
	ResponseID string
	Err        error
}

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a textChunk using the provider-specific parseLine function.
// The returned channel is closed when the stream ends, the body is closed,
// or ctx is cancelled.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*textChunk, error)) <-chan textChunk {
	ch := make(chan textChunk, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			// We only care about "data: ..." lines; the payloads carry
			// their own type discriminators.
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			// Common termination signal.
			if bytes.Equal(data, []byte("[DONE]")) {
				ch <- textChunk{Done: true}
				return
			}

			chunk, err := parseLine(data)
			if err != nil {
				// Skip unparseable lines.
				continue
			}
			if chunk == nil {
				continue
			}

			select {
			case ch <- *chunk:
			case <-ctx.Done():
				return
			}

			if chunk.Done || chunk.Err != nil {
				return
			}
		}
		// A scanner I/O error means the connection dropped mid-stream.
		if err := scanner.Err(); err != nil {
			select {
			case ch <- textChunk{Err: wrapTransportError(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}
