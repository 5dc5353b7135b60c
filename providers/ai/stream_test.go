package ai

import (
	"errors"
	"testing"
)

func eventsToStream(events []StreamEvent, trailing error) *MessageStream {
	return NewMessageStream(func(yield func(StreamEvent, error) bool) {
		for _, event := range events {
			if !yield(event, nil) {
				return
			}
		}
		if trailing != nil {
			yield(StreamEvent{}, trailing)
		}
	})
}

func TestCollectAssemblesResponse(t *testing.T) {
	acc := NewAccumulator("test-model")
	var events []StreamEvent
	events = append(events, acc.Start())
	events = append(events, acc.Push(Event{Kind: EventContent, Text: "partial "})...)
	events = append(events, acc.Push(Event{Kind: EventContent, Text: "answer"})...)
	events = append(events, acc.Push(Event{Kind: EventToolStart, ToolID: "call_1", ToolName: "search", Input: `{"q":"go"}`})...)
	events = append(events, acc.Push(Event{Kind: EventUsage, Usage: &Usage{InputTokens: 12, OutputTokens: 34}})...)
	events = append(events, acc.Finish()...)

	response, err := eventsToStream(events, nil).Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if response.TextContent() != "partial answer" {
		t.Errorf("text = %q", response.TextContent())
	}
	tools := response.ToolUseBlocks()
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("tools = %+v", tools)
	}
	if response.StopReason != StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", response.StopReason)
	}
	if response.Usage.InputTokens != 12 || response.Usage.OutputTokens != 34 {
		t.Errorf("usage = %+v", response.Usage)
	}
}

func TestCollectReturnsPartialOnMidStreamError(t *testing.T) {
	acc := NewAccumulator("test-model")
	var events []StreamEvent
	events = append(events, acc.Start())
	events = append(events, acc.Push(Event{Kind: EventContent, Text: "already produced"})...)

	wantErr := errors.New("connection reset")
	response, err := eventsToStream(events, wantErr).Collect()
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	// Text produced before the failure survives in the partial response.
	if response.TextContent() != "already produced" {
		t.Errorf("partial text = %q", response.TextContent())
	}
}

func TestIterStopsOnBreak(t *testing.T) {
	yielded := 0
	stream := NewMessageStream(func(yield func(StreamEvent, error) bool) {
		for i := 0; i < 10; i++ {
			yielded++
			if !yield(StreamEvent{Type: StreamPing}, nil) {
				return
			}
		}
	})

	seen := 0
	for range stream.Iter() {
		seen++
		if seen == 3 {
			break
		}
	}
	if yielded != 3 {
		t.Errorf("producer yielded %d events after consumer break, want 3", yielded)
	}
}
