package ai

import (
	"encoding/json"
	"testing"
)

// collectEvents drives an accumulator through a provider event sequence and
// returns every canonical event produced, including start and finish.
func collectEvents(acc *Accumulator, events []Event) []StreamEvent {
	out := []StreamEvent{acc.Start()}
	for _, event := range events {
		out = append(out, acc.Push(event)...)
	}
	return append(out, acc.Finish()...)
}

func TestAccumulatorTextStream(t *testing.T) {
	acc := NewAccumulator("test-model")
	events := collectEvents(acc, []Event{
		{Kind: EventContent, Text: "Hello, "},
		{Kind: EventContent, Text: "world!"},
		{Kind: EventStop, StopReason: StopEndTurn},
	})

	assertEventTypes(t, events, []StreamEventType{
		StreamMessageStart,
		StreamContentBlockStart,
		StreamContentBlockDelta,
		StreamContentBlockDelta,
		StreamContentBlockStop,
		StreamMessageDelta,
		StreamMessageStop,
	})

	response := acc.Response()
	if got := response.TextContent(); got != "Hello, world!" {
		t.Errorf("text = %q, want %q", got, "Hello, world!")
	}
	if response.StopReason != StopEndTurn {
		t.Errorf("stop reason = %q, want end_turn", response.StopReason)
	}
}

// Tool arguments may arrive split between the start event and later input
// fragments; the assembled block must carry the full parsed object.
func TestAccumulatorToolInputAssembly(t *testing.T) {
	acc := NewAccumulator("test-model")
	collectEvents(acc, []Event{
		{Kind: EventToolStart, ToolID: "x", ToolName: "t", Input: `{"q":`},
		{Kind: EventToolInput, Input: `"hi"}`},
		{Kind: EventStop},
	})

	response := acc.Response()
	tools := response.ToolUseBlocks()
	if len(tools) != 1 {
		t.Fatalf("got %d tool blocks, want 1", len(tools))
	}
	if tools[0].ID != "x" || tools[0].Name != "t" {
		t.Errorf("tool identity = (%q, %q), want (x, t)", tools[0].ID, tools[0].Name)
	}

	var input map[string]string
	if err := json.Unmarshal(tools[0].Input, &input); err != nil {
		t.Fatalf("tool input does not parse: %v", err)
	}
	if input["q"] != "hi" {
		t.Errorf("input.q = %q, want %q", input["q"], "hi")
	}
	if response.StopReason != StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", response.StopReason)
	}
}

func TestAccumulatorMalformedToolInputDegradesToEmptyObject(t *testing.T) {
	acc := NewAccumulator("test-model")
	collectEvents(acc, []Event{
		{Kind: EventToolStart, ToolID: "x", ToolName: "t", Input: "not json at"},
		{Kind: EventStop},
	})

	tools := acc.Response().ToolUseBlocks()
	if len(tools) != 1 {
		t.Fatalf("got %d tool blocks, want 1", len(tools))
	}
	if string(tools[0].Input) != "{}" {
		t.Errorf("input = %s, want {}", tools[0].Input)
	}
}

// Every content_block_start must precede the deltas referencing its index and
// indices must never decrease, regardless of how block kinds interleave.
func TestAccumulatorIndexInvariants(t *testing.T) {
	acc := NewAccumulator("test-model", WithThinkingTags("<think>", "</think>"))
	events := collectEvents(acc, []Event{
		{Kind: EventContent, Text: "<think>pondering</think>answer "},
		{Kind: EventToolStart, ToolID: "a", ToolName: "lookup"},
		{Kind: EventToolInput, Input: "{}"},
		{Kind: EventStop},
		{Kind: EventContent, Text: "more text"},
		{Kind: EventStop, StopReason: StopEndTurn},
	})

	started := map[int]bool{}
	lastIndex := -1
	for _, event := range events {
		switch event.Type {
		case StreamContentBlockStart:
			if started[event.Index] {
				t.Errorf("index %d started twice", event.Index)
			}
			if event.Index < lastIndex {
				t.Errorf("index went backwards: %d after %d", event.Index, lastIndex)
			}
			started[event.Index] = true
			lastIndex = event.Index
		case StreamContentBlockDelta, StreamContentBlockStop:
			if !started[event.Index] {
				t.Errorf("%s for index %d before its start", event.Type, event.Index)
			}
		}
	}
	// thinking, text, tool, text again: four distinct blocks.
	if len(started) != 4 {
		t.Errorf("got %d blocks, want 4", len(started))
	}
}

func TestAccumulatorInlineThinkingTags(t *testing.T) {
	acc := NewAccumulator("test-model", WithThinkingTags("<think>", "</think>"))
	collectEvents(acc, []Event{
		{Kind: EventContent, Text: "<thi"},
		{Kind: EventContent, Text: "nk>reason"},
		{Kind: EventContent, Text: "ing</think>visible"},
		{Kind: EventStop, StopReason: StopEndTurn},
	})

	response := acc.Response()
	if len(response.Content) != 2 {
		t.Fatalf("got %d blocks, want 2", len(response.Content))
	}
	if response.Content[0].Type != BlockThinking || response.Content[0].Thinking != "reasoning" {
		t.Errorf("thinking block = %+v", response.Content[0])
	}
	if response.Content[1].Type != BlockText || response.Content[1].Text != "visible" {
		t.Errorf("text block = %+v", response.Content[1])
	}
}

func TestAccumulatorUsageFreezesEstimate(t *testing.T) {
	acc := NewAccumulator("test-model")
	acc.Push(Event{Kind: EventContent, Text: "some text here"})

	// Before real usage arrives the estimate tracks text length.
	if got := acc.usage().OutputTokens; got != len("some text here")/4 {
		t.Errorf("estimate = %d, want %d", got, len("some text here")/4)
	}

	acc.Push(Event{Kind: EventUsage, Usage: &Usage{InputTokens: 50, OutputTokens: 7}})
	acc.Push(Event{Kind: EventContent, Text: "trailing text that must not bump the count"})

	usage := acc.usage()
	if usage.InputTokens != 50 || usage.OutputTokens != 7 {
		t.Errorf("usage = %+v, want provider-reported 50/7", usage)
	}
}

func TestAccumulatorResponseOrdering(t *testing.T) {
	acc := NewAccumulator("test-model")
	collectEvents(acc, []Event{
		{Kind: EventToolStart, ToolID: "x", ToolName: "t", Input: "{}"},
		{Kind: EventStop},
		{Kind: EventContent, Text: "text"},
		{Kind: EventThinking, Text: "thought"},
		{Kind: EventStop, StopReason: StopEndTurn},
	})

	// Assembly order is fixed: thinking, text, then tool calls.
	response := acc.Response()
	if len(response.Content) != 3 {
		t.Fatalf("got %d blocks, want 3", len(response.Content))
	}
	wantTypes := []string{BlockThinking, BlockText, BlockToolUse}
	for i, want := range wantTypes {
		if response.Content[i].Type != want {
			t.Errorf("block %d type = %q, want %q", i, response.Content[i].Type, want)
		}
	}
}

// Truncation reported by the upstream must surface identically in the
// streaming terminal delta and the assembled response.
func TestAccumulatorMaxTokensStopReason(t *testing.T) {
	acc := NewAccumulator("test-model")
	events := collectEvents(acc, []Event{
		{Kind: EventContent, Text: "cut off mid"},
		{Kind: EventStop, StopReason: StopMaxTokens},
	})

	var deltaStop StopReason
	for _, event := range events {
		if event.Type == StreamMessageDelta && event.Delta != nil {
			deltaStop = event.Delta.StopReason
		}
	}
	if deltaStop != StopMaxTokens {
		t.Errorf("message_delta stop reason = %q, want max_tokens", deltaStop)
	}
	if got := acc.Response().StopReason; got != StopMaxTokens {
		t.Errorf("response stop reason = %q, want max_tokens", got)
	}
}

// An upstream end_turn claim never overrides the tool calls actually seen.
func TestAccumulatorStopReasonDerivedOverClaim(t *testing.T) {
	acc := NewAccumulator("test-model")
	collectEvents(acc, []Event{
		{Kind: EventToolStart, ToolID: "x", ToolName: "t", Input: "{}"},
		{Kind: EventStop, StopReason: StopEndTurn},
	})

	if got := acc.Response().StopReason; got != StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", got)
	}
}

func TestAccumulatorErrorEvent(t *testing.T) {
	acc := NewAccumulator("test-model")
	events := acc.Push(Event{Kind: EventError, Err: &ErrorDetail{Type: "overloaded_error", Message: "busy"}})

	if len(events) != 1 || events[0].Type != StreamError {
		t.Fatalf("got %+v, want single error event", events)
	}
	if events[0].Error.Type != "overloaded_error" {
		t.Errorf("error type = %q", events[0].Error.Type)
	}
}

func assertEventTypes(t *testing.T, events []StreamEvent, want []StreamEventType) {
	t.Helper()
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(events), len(want), eventTypes(events))
	}
	for i, event := range events {
		if event.Type != want[i] {
			t.Errorf("event %d = %q, want %q", i, event.Type, want[i])
		}
	}
}

func eventTypes(events []StreamEvent) []StreamEventType {
	types := make([]StreamEventType, len(events))
	for i, event := range events {
		types[i] = event.Type
	}
	return types
}
