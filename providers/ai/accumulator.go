package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/modelrelay/modelrelay/internal/sigcache"
)

// Accumulator is the stateful reducer that turns provider events into
// canonical stream events and, at completion, a complete MessagesResponse.
// One instance is constructed per outbound streaming call and mutated
// sequentially by the task driving that call's read loop; it is never shared
// across calls and needs no locking.
type Accumulator struct {
	model      string
	responseID string

	text     strings.Builder
	thinking strings.Builder

	completedTools []*toolAccumulator
	openTool       *toolAccumulator

	inputTokens  int
	outputTokens int
	usageFinal   bool

	nextIndex    int
	currentKind  string // "", BlockText, BlockThinking, BlockToolUse
	currentIndex int

	splitter *tagSplitter

	signatures      *sigcache.Cache
	family          sigcache.Family
	lastSignature   string
	contextUsagePct float64
	upstreamStop    StopReason
}

// toolAccumulator collects one tool call's identity and buffered input JSON.
type toolAccumulator struct {
	id    string
	name  string
	input strings.Builder
}

// AccumulatorOption configures an Accumulator at construction.
type AccumulatorOption func(*Accumulator)

// WithThinkingTags enables inline tag splitting for upstreams that embed
// reasoning between delimiters inside free text.
func WithThinkingTags(openTag, closeTag string) AccumulatorOption {
	return func(a *Accumulator) {
		a.splitter = newTagSplitter(openTag, closeTag)
	}
}

// WithSignatureCache wires the cross-turn signature cache so signatures
// observed on this stream become available to the next turn's transformer.
func WithSignatureCache(cache *sigcache.Cache, family sigcache.Family) AccumulatorOption {
	return func(a *Accumulator) {
		a.signatures = cache
		a.family = family
	}
}

// NewAccumulator creates a per-call accumulator for the given model.
func NewAccumulator(model string, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		model:      model,
		responseID: fmt.Sprintf("msg_%s", uuid.NewString()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetResponseID overrides the generated response id with an upstream-supplied one.
func (a *Accumulator) SetResponseID(id string) {
	if id != "" {
		a.responseID = id
	}
}

// Start returns the message_start event that opens the canonical stream.
func (a *Accumulator) Start() StreamEvent {
	return StreamEvent{
		Type: StreamMessageStart,
		Message: &MessagesResponse{
			ID:      a.responseID,
			Model:   a.model,
			Role:    RoleAssistant,
			Content: []ContentBlock{},
			Usage:   Usage{InputTokens: a.inputTokens},
		},
	}
}

// Push consumes one provider event and returns the canonical events it
// produces, preserving the block-start-before-delta and index monotonicity
// invariants.
func (a *Accumulator) Push(event Event) []StreamEvent {
	switch event.Kind {
	case EventContent:
		return a.pushContent(event.Text)

	case EventThinking:
		return a.pushThinking(event.Text)

	case EventSignature:
		return a.pushSignature(event)

	case EventToolStart:
		return a.pushToolStart(event)

	case EventToolInput:
		return a.pushToolInput(event.Input)

	case EventStop:
		return a.pushStop(event.StopReason)

	case EventUsage:
		if event.Usage != nil {
			a.inputTokens = event.Usage.InputTokens
			a.outputTokens = event.Usage.OutputTokens
			a.usageFinal = true
		}
		return nil

	case EventContextUsage:
		// Recorded for diagnostics only; no canonical event surfaces it.
		a.contextUsagePct = event.ContextPct
		return nil

	case EventError:
		detail := event.Err
		if detail == nil {
			detail = &ErrorDetail{Type: "api_error", Message: "unknown upstream error"}
		}
		return []StreamEvent{{Type: StreamError, Error: detail}}
	}

	return nil
}

// pushContent routes free text through the tag splitter (when configured) and
// emits text and thinking deltas for the resulting fragments.
func (a *Accumulator) pushContent(text string) []StreamEvent {
	if text == "" {
		return nil
	}

	if a.splitter == nil {
		return a.emitFragments([]Fragment{{Regular: text}})
	}
	return a.emitFragments(a.splitter.Push(text))
}

func (a *Accumulator) emitFragments(fragments []Fragment) []StreamEvent {
	var events []StreamEvent
	for _, fragment := range fragments {
		if fragment.Thinking != "" {
			events = append(events, a.pushThinking(fragment.Thinking)...)
		}
		if fragment.Regular != "" {
			events = append(events, a.ensureBlock(BlockText)...)
			a.text.WriteString(fragment.Regular)
			if !a.usageFinal {
				a.outputTokens = estimateTokens(a.text.Len())
			}
			events = append(events, StreamEvent{
				Type:  StreamContentBlockDelta,
				Index: a.currentIndex,
				Delta: &Delta{Type: DeltaText, Text: fragment.Regular},
			})
		}
	}
	return events
}

func (a *Accumulator) pushThinking(text string) []StreamEvent {
	if text == "" {
		return nil
	}
	events := a.ensureBlock(BlockThinking)
	a.thinking.WriteString(text)
	return append(events, StreamEvent{
		Type:  StreamContentBlockDelta,
		Index: a.currentIndex,
		Delta: &Delta{Type: DeltaThinking, Thinking: text},
	})
}

// pushSignature stores the signature in the cross-turn cache and, for
// thinking signatures, emits a signature delta on the open thinking block.
// Tool signatures (ToolID set) are cache-only; they have no canonical delta.
func (a *Accumulator) pushSignature(event Event) []StreamEvent {
	if event.Signature == "" {
		return nil
	}

	if event.ToolID != "" {
		if a.signatures != nil {
			a.signatures.StoreToolSignature(event.ToolID, event.Signature, a.family)
		}
		return nil
	}

	a.lastSignature = event.Signature
	if a.signatures != nil {
		a.signatures.StoreThinkingSignature(a.thinking.String(), event.Signature, a.family)
	}

	events := a.ensureBlock(BlockThinking)
	return append(events, StreamEvent{
		Type:  StreamContentBlockDelta,
		Index: a.currentIndex,
		Delta: &Delta{Type: DeltaSignature, Signature: event.Signature},
	})
}

// pushToolStart finalizes any open tool call, opens a new one at a fresh
// index, and emits the start event plus a delta for any pre-supplied partial
// input so partially-populated initial arguments are never dropped.
func (a *Accumulator) pushToolStart(event Event) []StreamEvent {
	events := a.closeCurrentBlock()

	toolID := event.ToolID
	if toolID == "" {
		toolID = NewToolUseID()
	}

	a.openTool = &toolAccumulator{id: toolID, name: event.ToolName}
	a.currentKind = BlockToolUse
	a.currentIndex = a.nextIndex
	a.nextIndex++

	events = append(events, StreamEvent{
		Type:  StreamContentBlockStart,
		Index: a.currentIndex,
		ContentBlock: &ContentBlock{
			Type:  BlockToolUse,
			ID:    toolID,
			Name:  event.ToolName,
			Input: emptyObject,
		},
	})

	if event.Input != "" {
		a.openTool.input.WriteString(event.Input)
		events = append(events, StreamEvent{
			Type:  StreamContentBlockDelta,
			Index: a.currentIndex,
			Delta: &Delta{Type: DeltaInputJSON, PartialJSON: event.Input},
		})
	}

	return events
}

func (a *Accumulator) pushToolInput(fragment string) []StreamEvent {
	if fragment == "" || a.openTool == nil {
		return nil
	}
	a.openTool.input.WriteString(fragment)
	return []StreamEvent{{
		Type:  StreamContentBlockDelta,
		Index: a.currentIndex,
		Delta: &Delta{Type: DeltaInputJSON, PartialJSON: fragment},
	}}
}

func (a *Accumulator) pushStop(reason StopReason) []StreamEvent {
	a.upstreamStop = reason
	return a.closeCurrentBlock()
}

// ensureBlock guarantees a block of the wanted kind is open, closing the
// previous block and allocating the next index when the kind changes.
func (a *Accumulator) ensureBlock(kind string) []StreamEvent {
	if a.currentKind == kind {
		return nil
	}

	events := a.closeCurrentBlock()

	a.currentKind = kind
	a.currentIndex = a.nextIndex
	a.nextIndex++

	placeholder := &ContentBlock{Type: kind}
	events = append(events, StreamEvent{
		Type:         StreamContentBlockStart,
		Index:        a.currentIndex,
		ContentBlock: placeholder,
	})
	return events
}

// closeCurrentBlock emits the stop event for the open block, moving an open
// tool accumulator into the completed list.
func (a *Accumulator) closeCurrentBlock() []StreamEvent {
	if a.currentKind == "" {
		return nil
	}

	if a.openTool != nil {
		a.completedTools = append(a.completedTools, a.openTool)
		a.openTool = nil
	}

	event := StreamEvent{Type: StreamContentBlockStop, Index: a.currentIndex}
	a.currentKind = ""
	return []StreamEvent{event}
}

// Finish closes the stream: any pending split text is flushed, the open block
// is stopped, and the terminal message_delta and message_stop are emitted.
func (a *Accumulator) Finish() []StreamEvent {
	var events []StreamEvent

	if a.splitter != nil {
		events = append(events, a.emitFragments(a.splitter.Flush())...)
	}

	events = append(events, a.closeCurrentBlock()...)

	usage := a.usage()
	events = append(events, StreamEvent{
		Type:  StreamMessageDelta,
		Delta: &Delta{StopReason: a.stopReason()},
		Usage: &usage,
	})
	events = append(events, StreamEvent{Type: StreamMessageStop})
	return events
}

// Response materializes the complete non-streaming response from the
// accumulated state: a thinking block if any reasoning was seen, a text block
// if any text was seen, then one tool_use block per completed tool call.
func (a *Accumulator) Response() *MessagesResponse {
	// Ensure pending state is folded in; Finish is idempotent on the builders.
	if a.splitter != nil {
		a.emitFragments(a.splitter.Flush())
	}
	if a.openTool != nil {
		a.completedTools = append(a.completedTools, a.openTool)
		a.openTool = nil
	}

	response := &MessagesResponse{
		ID:    a.responseID,
		Model: a.model,
		Role:  RoleAssistant,
		Usage: a.usage(),
	}

	if a.thinking.Len() > 0 {
		response.Content = append(response.Content, ContentBlock{
			Type:      BlockThinking,
			Thinking:  a.thinking.String(),
			Signature: a.lastSignature,
		})
	}

	if a.text.Len() > 0 {
		response.Content = append(response.Content, ContentBlock{
			Type: BlockText,
			Text: a.text.String(),
		})
	}

	for _, tool := range a.completedTools {
		response.Content = append(response.Content, ContentBlock{
			Type:  BlockToolUse,
			ID:    tool.id,
			Name:  tool.name,
			Input: parseToolInput(tool.input.String()),
		})
	}

	response.StopReason = a.stopReason()
	return response
}

// ContextUsagePct returns the last context-window fill percentage reported by
// the upstream, for diagnostics.
func (a *Accumulator) ContextUsagePct() float64 {
	return a.contextUsagePct
}

// stopReason derives the stop reason from the accumulated state rather than
// the upstream claim, so streaming and non-streaming assembly cannot disagree.
// Truncation is the one fact content cannot reveal, so an explicit max_tokens
// from the upstream wins over the derived reason.
func (a *Accumulator) stopReason() StopReason {
	if a.upstreamStop == StopMaxTokens {
		return StopMaxTokens
	}
	if len(a.completedTools) > 0 {
		return StopToolUse
	}
	return StopEndTurn
}

func (a *Accumulator) usage() Usage {
	return Usage{InputTokens: a.inputTokens, OutputTokens: a.outputTokens}
}

// estimateTokens is the fallback output-token estimate used only until a real
// usage event arrives: max(len(text)/4, 1).
func estimateTokens(textLen int) int {
	estimate := textLen / 4
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

// parseToolInput parses buffered tool-call input JSON. Malformed input is
// repaired when possible and degrades to an empty object otherwise, so
// tool-input corruption never aborts the turn.
func parseToolInput(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return emptyObject
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err == nil && strings.HasPrefix(repaired, "{") && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}
	return emptyObject
}
