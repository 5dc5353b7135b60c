package ai

// EventKind discriminates the provider-event vocabulary that raw stream
// parsers produce and the accumulator consumes. Each upstream dialect maps
// its own wire framing onto this small set.
type EventKind string

const (
	// EventContent is free text. It may embed inline thinking delimiters that
	// the accumulator's tag splitter separates.
	EventContent EventKind = "content"
	// EventThinking is reasoning text delivered as a distinct unit by the
	// upstream (never tag-embedded).
	EventThinking EventKind = "thinking"
	// EventSignature is an opaque continuation signature attached to the
	// current thinking block, or to a tool call when ToolID is set.
	EventSignature EventKind = "signature"
	// EventToolStart opens a tool call; Input may carry pre-supplied partial
	// arguments that must not be dropped.
	EventToolStart EventKind = "tool_start"
	// EventToolInput appends an argument fragment to the open tool call.
	EventToolInput EventKind = "tool_input"
	// EventStop closes the current block. StopReason distinguishes a
	// tool-specific stop from a terminal end of turn.
	EventStop EventKind = "stop"
	// EventUsage carries provider-reported token counts.
	EventUsage EventKind = "usage"
	// EventContextUsage reports the upstream's context-window fill percentage.
	EventContextUsage EventKind = "context_usage"
	// EventError is an upstream semantic error; it terminates the stream.
	EventError EventKind = "error"
)

// Event is one provider-specific stream unit after raw parsing. Field use by
// kind: Text (content, thinking), Signature (+ optional ToolID), ToolID /
// ToolName / Input (tool_start), Input (tool_input), StopReason (stop),
// Usage (usage), ContextPct (context_usage), Err (error).
type Event struct {
	Kind       EventKind
	Text       string
	Signature  string
	ToolID     string
	ToolName   string
	Input      string
	StopReason StopReason
	Usage      *Usage
	ContextPct float64
	Err        *ErrorDetail
}
