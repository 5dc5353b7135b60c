package ai

import (
	"encoding/json"
	"fmt"
)

/*
	##### CANONICAL REQUEST #####
*/

// MessagesRequest is the vendor-neutral chat request every provider adapter
// consumes. Callers never build provider-specific shapes; the per-provider
// request transformers translate this structure into each upstream dialect.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        string          `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// ThinkingConfig opts a request into extended reasoning with a token budget.
// Transformers guarantee MaxTokens exceeds the budget by raising MaxTokens
// rather than rejecting the request.
type ThinkingConfig struct {
	Type         string `json:"type,omitempty"` // "enabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Tool describes a callable function exposed to the model. InputSchema holds
// the caller's JSON Schema verbatim; transformers pass it through the schema
// sanitizer before it reaches a provider.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice constrains which tool the model may call.
type ToolChoice struct {
	Type string `json:"type"`           // "auto", "any", "tool", "none"
	Name string `json:"name,omitempty"` // Only for type="tool"
}

// Tool choice type values.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
	ToolChoiceTool = "tool"
	ToolChoiceNone = "none"
)

/*
	##### MESSAGES AND CONTENT BLOCKS #####
*/

// Role identifies the author of a message; compatible with string.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem appears only in caller input. Transformers fold system
	// messages into the user turn or the provider's system-instruction field.
	RoleSystem Role = "system"
)

// Message is a single conversation turn. Content is either a plain string or
// an ordered list of content blocks; MessageContent's JSON codec accepts both.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent holds either plain text or structured content blocks.
// Exactly one of the two forms is populated; IsText reports which.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
	isText bool
}

// TextContent wraps a plain string as message content.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text, isText: true}
}

// BlocksContent wraps an ordered block list as message content.
func BlocksContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsText reports whether the content was supplied as a plain string.
func (mc MessageContent) IsText() bool {
	return mc.isText
}

// AsBlocks returns the content as a block list, wrapping plain text in a
// single text block so consumers can iterate uniformly.
func (mc MessageContent) AsBlocks() []ContentBlock {
	if mc.isText {
		return []ContentBlock{{Type: BlockText, Text: mc.Text}}
	}
	return mc.Blocks
}

// MarshalJSON encodes plain text as a JSON string and block content as an array.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.isText {
		return json.Marshal(mc.Text)
	}
	return json.Marshal(mc.Blocks)
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		mc.isText = true
		mc.Blocks = nil
		return json.Unmarshal(data, &mc.Text)
	}
	mc.isText = false
	mc.Text = ""
	if err := json.Unmarshal(data, &mc.Blocks); err != nil {
		return fmt.Errorf("message content must be a string or a block array: %w", err)
	}
	return nil
}

// Content block type values.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
	BlockImage      = "image"
	BlockDocument   = "document"
)

// ContentBlock is a discriminated union via the Type field.
// Depending on Type, different fields are populated:
//   - "text": Text
//   - "tool_use": ID, Name, Input
//   - "tool_result": ToolUseID, Content, IsError
//   - "thinking": Thinking, Signature
//   - "image": Source (base64 or url)
//   - "document": Source (base64)
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *MessageContent `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Source    *Source         `json:"source,omitempty"`
}

// Source describes where image or document bytes come from: inline base64
// data with a MIME type, or a URL reference.
type Source struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

/*
	##### CANONICAL RESPONSE #####
*/

// StopReason explains why generation ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// MessagesResponse is the complete, vendor-neutral response assembled from an
// upstream call. Content ordering is Thinking, Text, then ToolUse blocks when
// assembled by the stream accumulator.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	StopReason   StopReason     `json:"stop_reason,omitempty"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage reports token consumption for a single request.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// ToolUseBlocks returns the tool_use blocks of the response in order.
func (r *MessagesResponse) ToolUseBlocks() []ContentBlock {
	var blocks []ContentBlock
	for _, block := range r.Content {
		if block.Type == BlockToolUse {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// TextContent joins all text blocks of the response.
func (r *MessagesResponse) TextContent() string {
	text := ""
	for _, block := range r.Content {
		if block.Type == BlockText {
			text += block.Text
		}
	}
	return text
}
