package utils

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/providers/observability"
)

// DoPostStream performs a JSON POST and returns the response with its body
// left open for incremental reading. The caller owns the body and must close
// it. Non-2xx responses are fully read, closed, and returned as *StatusError.
func DoPostStream(ctx context.Context, client *http.Client, url string, body any, headers ...HeaderOption) (*http.Response, error) {
	span := observability.SpanFromContext(ctx)

	httpClient := client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling body: %w", err)
	}

	if span != nil {
		span.AddEvent("http.stream_request.prepared",
			observability.String(observability.AttrHTTPMethod, "POST"),
			observability.String(observability.AttrHTTPURL, url),
			observability.Int(observability.AttrHTTPRequestBodySize, len(jsonBody)),
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for _, header := range headers {
		req.Header.Set(header.Key, header.Value)
	}

	requestStart := time.Now()
	response, err := httpClient.Do(req)
	requestDuration := time.Since(requestStart)

	if err != nil {
		if span != nil {
			span.AddEvent("http.stream_request.error",
				observability.Error(err),
				observability.Duration(observability.AttrDuration, requestDuration),
			)
		}
		return response, fmt.Errorf("error sending stream request: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		defer CloseWithLog(response.Body)
		errorBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodySize))
		if readErr != nil {
			return response, fmt.Errorf("upstream status %s (failed to read body: %v)", response.Status, readErr)
		}
		return response, newStatusError(response, errorBody)
	}

	if span != nil {
		span.AddEvent("http.stream_response.started",
			observability.Int(observability.AttrHTTPStatusCode, response.StatusCode),
			observability.Duration(observability.AttrDuration, requestDuration),
		)
	}

	return response, nil
}

// maxStreamLineSize is the maximum size of a single stream line (1 MB). The
// default bufio.Scanner limit of 64 KiB is too small for large tool-call
// arguments or long completions delivered in one chunk.
const maxStreamLineSize = 1 * 1024 * 1024

// maxResponseBodySize caps error and sync body reads (10 MB) so a rogue
// response cannot exhaust memory.
const maxResponseBodySize int64 = 10 * 1024 * 1024

// SSEScanner reads Server-Sent Events from an io.Reader. It joins multi-line
// data fields, skips comments, and treats the [DONE] sentinel as end of
// stream.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner creates a scanner over an SSE stream. Individual lines up to
// maxStreamLineSize are supported; longer lines surface bufio.ErrTooLong from
// Next.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineSize)
	return &SSEScanner{scanner: scanner}
}

// Next returns the next event's data payload. Consecutive data lines within
// one event are joined with newlines. Returns io.EOF at end of stream or on
// the [DONE] sentinel.
func (s *SSEScanner) Next() (string, error) {
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// A blank line terminates the current event.
		if line == "" {
			if len(dataLines) > 0 {
				return strings.Join(dataLines, "\n"), nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return "", io.EOF
			}
			dataLines = append(dataLines, data)
			continue
		}

		// event:, id:, and retry: fields carry no payload we consume.
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("SSE scanner error: %w", err)
	}

	// A final event without a trailing blank line is still an event.
	if len(dataLines) > 0 {
		return strings.Join(dataLines, "\n"), nil
	}

	return "", io.EOF
}

// LineBuffer splits newline-delimited stream chunks into complete lines. It
// is push-based rather than reader-based because NDJSON upstreams deliver
// chunks that may end mid-line; a partial trailing line is held until the
// next chunk or Flush completes it.
type LineBuffer struct {
	pending strings.Builder
}

// Push appends a chunk and returns every complete line it terminates. Carriage
// returns before the newline are stripped. Blank lines are dropped.
func (b *LineBuffer) Push(chunk string) []string {
	var lines []string
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx < 0 {
			b.pending.WriteString(chunk)
			return lines
		}

		b.pending.WriteString(chunk[:idx])
		line := strings.TrimSuffix(b.pending.String(), "\r")
		b.pending.Reset()
		if line != "" {
			lines = append(lines, line)
		}
		chunk = chunk[idx+1:]
	}
}

// Flush returns the final unterminated line, if any.
func (b *LineBuffer) Flush() []string {
	if b.pending.Len() == 0 {
		return nil
	}
	line := strings.TrimSuffix(b.pending.String(), "\r")
	b.pending.Reset()
	if line == "" {
		return nil
	}
	return []string{line}
}
