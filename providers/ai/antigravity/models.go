package antigravity

import "encoding/json"

/*
	ANTIGRAVITY API - REQUEST TYPES
*/

// chatRequest is the request body for the streaming chat endpoint. The API
// takes a flat history instead of role-nested content blocks; reasoning is
// embedded in Content between inline thinking tags.
type chatRequest struct {
	Model          string           `json:"model"`
	System         string           `json:"system,omitempty"`
	History        []historyEntry   `json:"history"`
	MaxTokens      int              `json:"maxTokens,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	TopP           *float64         `json:"topP,omitempty"`
	TopK           *int             `json:"topK,omitempty"`
	StopSequences  []string         `json:"stopSequences,omitempty"`
	Tools          []toolDefinition `json:"tools,omitempty"`
	ToolChoice     string           `json:"toolChoice,omitempty"`
	ThinkingBudget int              `json:"thinkingBudget,omitempty"`
}

// historyEntry is one flat history item. Exactly one of Content, the tool-call
// fields (ToolUseID+ToolName+ToolInput), or the tool-result fields
// (ToolUseID+ToolResult) is populated.
type historyEntry struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolUseID  string          `json:"toolUseId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolResult string          `json:"toolResult,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Signature  string          `json:"signature,omitempty"`
}

type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

/*
	ANTIGRAVITY API - STREAM LINE TYPES
*/

// toolCallLine is a tool call delivered on a stream line, either alone or as
// an element of a bracket-delimited array of calls.
type toolCallLine struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

// usageLine is the token-usage payload of a usage line.
type usageLine struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// errorLine is the payload of an error line.
type errorLine struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
