package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/modelrelay/modelrelay/providers/observability"
)

// HeaderOption is a request header applied on top of the defaults. A later
// option overrides an earlier one with the same key.
type HeaderOption struct {
	Key   string
	Value string
}

// StatusError is a non-2xx upstream response. Body holds a readable rendition
// of the error payload and RetryAfter the upstream-requested delay, when the
// Retry-After header was present and parseable.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %s: %s", e.Status, e.Body)
}

// newStatusError builds a StatusError from a response whose body has already
// been read. HTML error pages (reverse proxies, gateways) are converted to
// markdown so logs carry the message instead of a tag soup.
func newStatusError(response *http.Response, body []byte) *StatusError {
	return &StatusError{
		StatusCode: response.StatusCode,
		Status:     response.Status,
		Body:       readableBody(response.Header.Get("Content-Type"), body),
		RetryAfter: parseRetryAfter(response.Header.Get("Retry-After")),
	}
}

func readableBody(contentType string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "text/html") || strings.HasPrefix(text, "<!DOCTYPE") || strings.HasPrefix(text, "<html") {
		if markdown, err := htmltomarkdown.ConvertString(text); err == nil {
			text = strings.TrimSpace(markdown)
		}
	}
	return TruncateString(text, DefaultMaxStringLength)
}

// parseRetryAfter supports both forms of the header: delay seconds and an
// HTTP date. Unparseable or past values yield zero.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 0
}

// CloseWithLog closes the body and logs a failure without surfacing it; close
// errors never override the primary result of a request.
func CloseWithLog(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err.Error())
	}
}

// DoPostSync performs a synchronous JSON POST and decodes the response into
// OutputStruct. Non-2xx responses return a *StatusError so callers can
// classify the failure for retry decisions. The raw *http.Response is
// returned alongside for status inspection; its body is always consumed and
// closed before returning.
func DoPostSync[OutputStruct any](ctx context.Context, client *http.Client, url string, body any, headers ...HeaderOption) (*http.Response, *OutputStruct, error) {
	span := observability.SpanFromContext(ctx)

	httpClient := client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling body: %w", err)
	}

	if span != nil {
		span.AddEvent("http.request.prepared",
			observability.String(observability.AttrHTTPMethod, "POST"),
			observability.String(observability.AttrHTTPURL, url),
			observability.Int(observability.AttrHTTPRequestBodySize, len(jsonBody)),
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for _, header := range headers {
		req.Header.Set(header.Key, header.Value)
	}

	requestStart := time.Now()
	res, err := httpClient.Do(req)
	requestDuration := time.Since(requestStart)

	if err != nil {
		if span != nil {
			span.AddEvent("http.request.error",
				observability.Error(err),
				observability.Duration(observability.AttrDuration, requestDuration),
			)
		}
		return res, nil, fmt.Errorf("error sending request: %w", err)
	}
	defer CloseWithLog(res.Body)

	respBody, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
	if err != nil {
		return res, nil, fmt.Errorf("error reading response body: %w", err)
	}

	if span != nil {
		span.AddEvent("http.response.received",
			observability.Int(observability.AttrHTTPStatusCode, res.StatusCode),
			observability.Int(observability.AttrHTTPResponseBodySize, len(respBody)),
			observability.Duration(observability.AttrDuration, requestDuration),
		)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, nil, newStatusError(res, respBody)
	}

	var resStruct OutputStruct
	if err = json.Unmarshal(respBody, &resStruct); err != nil {
		return res, nil, fmt.Errorf("error unmarshaling response body (status %d): %w\nResponse preview: %s",
			res.StatusCode, err, TruncateString(string(respBody), DefaultMaxStringLength))
	}

	return res, &resStruct, nil
}
