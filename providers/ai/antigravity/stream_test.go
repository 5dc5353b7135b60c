package antigravity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelrelay/modelrelay/internal/sigcache"
	"github.com/modelrelay/modelrelay/providers/ai"
)

func testProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *sigcache.Cache) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cache := sigcache.New()
	provider := New().
		WithAPIKey("test-key").
		WithBaseURL(server.URL).
		WithSignatureCache(cache)
	return provider, cache
}

func ndjsonHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if r.URL.Path != "/v1/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func TestStreamMessageSeparatesInlineThinking(t *testing.T) {
	// The thinking delimiter is split across lines to exercise the
	// chunk-resilient tag splitter end to end.
	lines := []string{
		`{"content":"<|thin"}`,
		`{"content":"king|>planning it"}`,
		`{"content":"</|thinking|>done: 4"}`,
		`{"stop":"end_turn"}`,
		`{"usage":{"inputTokens":6,"outputTokens":3}}`,
	}
	provider, _ := testProvider(t, ndjsonHandler(t, lines))

	stream, err := provider.StreamMessage(context.Background(), &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("2+2?")}},
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	response, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if len(response.Content) != 2 {
		t.Fatalf("blocks = %+v, want thinking+text", response.Content)
	}
	if response.Content[0].Type != ai.BlockThinking || response.Content[0].Thinking != "planning it" {
		t.Errorf("thinking block = %+v", response.Content[0])
	}
	if response.Content[1].Type != ai.BlockText || response.Content[1].Text != "done: 4" {
		t.Errorf("text block = %+v", response.Content[1])
	}
	if response.Usage.InputTokens != 6 || response.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", response.Usage)
	}
}

func TestStreamMessageToolCallArrayLine(t *testing.T) {
	lines := []string{
		`[{"name":"get_weather","id":"toolu_a","input":{"city":"Paris"},"signature":"` + testSignature + `"},{"name":"get_time","id":"toolu_b","input":{"tz":"CET"}}]`,
		`{"stop":"tool_use"}`,
	}
	provider, cache := testProvider(t, ndjsonHandler(t, lines))

	stream, err := provider.StreamMessage(context.Background(), &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	response, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	tools := response.ToolUseBlocks()
	if len(tools) != 2 {
		t.Fatalf("tool blocks = %+v, want 2 (every array element)", tools)
	}
	if tools[0].ID != "toolu_a" || tools[0].Name != "get_weather" || string(tools[0].Input) != `{"city":"Paris"}` {
		t.Errorf("first tool = %+v", tools[0])
	}
	if tools[1].ID != "toolu_b" || tools[1].Name != "get_time" {
		t.Errorf("second tool = %+v", tools[1])
	}
	if response.StopReason != ai.StopToolUse {
		t.Errorf("stop reason = %q", response.StopReason)
	}

	if signature, ok := cache.ToolSignature("toolu_a"); !ok || signature != testSignature {
		t.Errorf("cached signature = (%q, %v)", signature, ok)
	}
}

func TestStreamMessageToolInputFragments(t *testing.T) {
	lines := []string{
		`{"name":"lookup","id":"toolu_x","input":"{\"q\":"}`,
		`{"input":"\"go\"}"}`,
		`{"stop":"tool_use"}`,
	}
	provider, _ := testProvider(t, ndjsonHandler(t, lines))

	stream, err := provider.StreamMessage(context.Background(), &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	response, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	tools := response.ToolUseBlocks()
	if len(tools) != 1 {
		t.Fatalf("tool blocks = %+v, want 1", tools)
	}
	if string(tools[0].Input) != `{"q":"go"}` {
		t.Errorf("assembled input = %s", tools[0].Input)
	}
}

func TestStreamMessageErrorLineTerminates(t *testing.T) {
	lines := []string{
		`{"content":"partial"}`,
		`{"error":{"type":"overloaded_error","message":"try later"}}`,
	}
	provider, _ := testProvider(t, ndjsonHandler(t, lines))

	stream, err := provider.StreamMessage(context.Background(), &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	sawError := false
	var partial string
	var terminal error
	for event, iterErr := range stream.Iter() {
		if iterErr != nil {
			terminal = iterErr
			break
		}
		if event.Type == ai.StreamError {
			sawError = true
			if event.Error.Type != "overloaded_error" {
				t.Errorf("error detail = %+v", event.Error)
			}
		}
		if event.Type == ai.StreamContentBlockDelta && event.Delta.Type == ai.DeltaText {
			partial += event.Delta.Text
		}
	}

	if partial != "partial" {
		t.Errorf("partial text = %q, want events before the error preserved", partial)
	}
	if !sawError {
		t.Error("missing canonical error event")
	}
	if terminal == nil {
		t.Error("iterator did not surface a terminal error")
	}
}

func TestParseLineKeyOrderIndependent(t *testing.T) {
	// The same tool call with keys in a different order must dispatch the same.
	for _, line := range []string{
		`{"name":"t","id":"toolu_1","input":{}}`,
		`{"input":{},"id":"toolu_1","name":"t"}`,
	} {
		events, err := parseLine(line)
		if err != nil {
			t.Fatalf("parseLine(%q): %v", line, err)
		}
		if len(events) != 1 || events[0].Kind != ai.EventToolStart || events[0].ToolID != "toolu_1" {
			t.Errorf("parseLine(%q) = %+v", line, events)
		}
	}
}

func TestParseLineRepairsMalformedJSON(t *testing.T) {
	events, err := parseLine(`{content: 'hello'}`)
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if len(events) != 1 || events[0].Kind != ai.EventContent || events[0].Text != "hello" {
		t.Errorf("events = %+v", events)
	}
}

func TestParseLineContextUsageAndUnknown(t *testing.T) {
	events, err := parseLine(`{"contextUsage":0.42}`)
	if err != nil || len(events) != 1 || events[0].Kind != ai.EventContextUsage || events[0].ContextPct != 0.42 {
		t.Errorf("contextUsage events = %+v, err = %v", events, err)
	}

	events, err = parseLine(`{"unknownField":true}`)
	if err != nil || events != nil {
		t.Errorf("unknown line = %+v, err = %v, want skip", events, err)
	}
}

func TestSendMessageDrivesStream(t *testing.T) {
	lines := []string{
		`{"content":"hi there"}`,
		`{"stop":"end_turn"}`,
		`{"usage":{"inputTokens":2,"outputTokens":2}}`,
	}
	provider, _ := testProvider(t, ndjsonHandler(t, lines))

	response, err := provider.SendMessage(context.Background(), &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if response.TextContent() != "hi there" {
		t.Errorf("text = %q", response.TextContent())
	}
	if response.StopReason != ai.StopEndTurn {
		t.Errorf("stop reason = %q", response.StopReason)
	}
}

func TestStreamMessageTokenSource(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		fmt.Fprintln(w, `{"stop":"end_turn"}`)
	}))
	t.Cleanup(server.Close)

	provider := New().
		WithBaseURL(server.URL).
		WithTokenSource(staticToken("dynamic-token"))

	stream, err := provider.StreamMessage(context.Background(), &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if _, err := stream.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if seen != "Bearer dynamic-token" {
		t.Errorf("authorization = %q", seen)
	}
}

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) {
	return string(s), nil
}
