package ai

import (
	"encoding/json"
	"iter"
	"strings"
)

// StreamEventType identifies the kind of canonical stream event.
type StreamEventType string

const (
	// StreamMessageStart opens a stream and carries the partial response envelope.
	StreamMessageStart StreamEventType = "message_start"
	// StreamContentBlockStart announces a new content block at an index.
	StreamContentBlockStart StreamEventType = "content_block_start"
	// StreamContentBlockDelta carries incremental content for an open block.
	StreamContentBlockDelta StreamEventType = "content_block_delta"
	// StreamContentBlockStop closes the block at an index.
	StreamContentBlockStop StreamEventType = "content_block_stop"
	// StreamMessageDelta carries the final stop reason and usage.
	StreamMessageDelta StreamEventType = "message_delta"
	// StreamMessageStop is the terminal event of a successful stream.
	StreamMessageStop StreamEventType = "message_stop"
	// StreamPing is a keep-alive; carries no payload.
	StreamPing StreamEventType = "ping"
	// StreamError signals a stream-terminating upstream failure.
	StreamError StreamEventType = "error"
)

// Delta type values within a content_block_delta event.
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaThinking  = "thinking_delta"
	DeltaSignature = "signature_delta"
)

// Delta carries the incremental payload of a content_block_delta event, or the
// stop metadata of a message_delta event (Type empty in that case).
type Delta struct {
	Type         string     `json:"type,omitempty"`
	Text         string     `json:"text,omitempty"`
	PartialJSON  string     `json:"partial_json,omitempty"`
	Thinking     string     `json:"thinking,omitempty"`
	Signature    string     `json:"signature,omitempty"`
	StopReason   StopReason `json:"stop_reason,omitempty"`
	StopSequence string     `json:"stop_sequence,omitempty"`
}

// ErrorDetail describes an upstream semantic error surfaced verbatim.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StreamEvent is the canonical, wire-independent stream event. For a given
// Index exactly one content_block_start precedes any delta or stop referencing
// it, and indices are non-decreasing within one stream.
type StreamEvent struct {
	Type         StreamEventType   `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`       // message_start
	Index        int               `json:"index,omitempty"`         // content_block_*
	ContentBlock *ContentBlock     `json:"content_block,omitempty"` // content_block_start
	Delta        *Delta            `json:"delta,omitempty"`         // content_block_delta, message_delta
	Usage        *Usage            `json:"usage,omitempty"`         // message_delta
	Error        *ErrorDetail      `json:"error,omitempty"`         // error
}

// MessageStream wraps a canonical event iterator and provides accumulation of
// the event sequence into a complete MessagesResponse.
//
// Callers must consume the stream, either by iterating with Iter() (breaking
// out early is fine) or by calling Collect(). The producing provider may hold
// an open HTTP response body that is only released when the iterator finishes
// or is abandoned via a loop break.
type MessageStream struct {
	iterator iter.Seq2[StreamEvent, error]
}

// NewMessageStream creates a MessageStream from a raw event iterator. The
// iterator yields events with a nil error for normal deltas and a non-nil
// error to signal a mid-stream failure.
func NewMessageStream(iterator iter.Seq2[StreamEvent, error]) *MessageStream {
	return &MessageStream{iterator: iterator}
}

// Iter returns the underlying iterator for use with range-over-func loops.
func (stream *MessageStream) Iter() iter.Seq2[StreamEvent, error] {
	return stream.iterator
}

// Collect consumes the entire stream and returns the assembled response.
// A mid-stream error terminates collection and returns the partial response
// together with the error. An error stream event without an iterator error is
// recorded but does not abort assembly; the iterator error channel is
// authoritative.
func (stream *MessageStream) Collect() (*MessagesResponse, error) {
	response := &MessagesResponse{Role: RoleAssistant}

	// Per-index builders for open blocks. Tool input arrives as JSON text
	// fragments that are only parsed once the stream ends.
	blocks := make(map[int]*blockBuilder)
	var order []int

	for event, err := range stream.iterator {
		if err != nil {
			finalizeBlocks(response, blocks, order)
			return response, err
		}

		switch event.Type {
		case StreamMessageStart:
			if event.Message != nil {
				response.ID = event.Message.ID
				response.Model = event.Message.Model
				response.Usage.InputTokens = event.Message.Usage.InputTokens
				response.Usage.CacheCreationInputTokens = event.Message.Usage.CacheCreationInputTokens
				response.Usage.CacheReadInputTokens = event.Message.Usage.CacheReadInputTokens
			}

		case StreamContentBlockStart:
			if event.ContentBlock == nil {
				continue
			}
			builder := &blockBuilder{kind: event.ContentBlock.Type}
			builder.id = event.ContentBlock.ID
			builder.name = event.ContentBlock.Name
			blocks[event.Index] = builder
			order = append(order, event.Index)

		case StreamContentBlockDelta:
			builder, ok := blocks[event.Index]
			if !ok || event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case DeltaText:
				builder.text.WriteString(event.Delta.Text)
			case DeltaThinking:
				builder.text.WriteString(event.Delta.Thinking)
			case DeltaInputJSON:
				builder.input.WriteString(event.Delta.PartialJSON)
			case DeltaSignature:
				builder.signature += event.Delta.Signature
			}

		case StreamContentBlockStop:
			// Block assembly happens at finalization; nothing to do here.

		case StreamMessageDelta:
			if event.Delta != nil {
				response.StopReason = event.Delta.StopReason
				response.StopSequence = event.Delta.StopSequence
			}
			if event.Usage != nil {
				response.Usage.InputTokens = event.Usage.InputTokens
				response.Usage.OutputTokens = event.Usage.OutputTokens
			}

		case StreamMessageStop:
			finalizeBlocks(response, blocks, order)
			return response, nil

		case StreamError:
			// Informational here; the terminating error arrives through the
			// iterator's error channel.

		case StreamPing:
		}
	}

	finalizeBlocks(response, blocks, order)
	return response, nil
}

// blockBuilder accumulates deltas for one content block index.
type blockBuilder struct {
	kind      string
	id        string
	name      string
	text      strings.Builder
	input     strings.Builder
	signature string
}

// finalizeBlocks materializes the accumulated builders into content blocks in
// index order. Tool inputs that fail to parse degrade to an empty object.
func finalizeBlocks(response *MessagesResponse, blocks map[int]*blockBuilder, order []int) {
	for _, index := range order {
		builder := blocks[index]
		switch builder.kind {
		case BlockText:
			response.Content = append(response.Content, ContentBlock{
				Type: BlockText,
				Text: builder.text.String(),
			})
		case BlockThinking:
			response.Content = append(response.Content, ContentBlock{
				Type:      BlockThinking,
				Thinking:  builder.text.String(),
				Signature: builder.signature,
			})
		case BlockToolUse:
			response.Content = append(response.Content, ContentBlock{
				Type:  BlockToolUse,
				ID:    builder.id,
				Name:  builder.name,
				Input: parseToolInput(builder.input.String()),
			})
		}
	}
}

// emptyObject is the substitute for tool input that cannot be parsed.
var emptyObject = json.RawMessage(`{}`)
