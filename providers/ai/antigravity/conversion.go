package antigravity

import (
	"strings"

	"github.com/modelrelay/modelrelay/internal/jsonschema"
	"github.com/modelrelay/modelrelay/internal/sigcache"
	"github.com/modelrelay/modelrelay/providers/ai"
)

// Inline delimiters the API uses for reasoning text, both in submitted
// history and in streamed content.
const (
	thinkingOpenTag  = "<|thinking|>"
	thinkingCloseTag = "</|thinking|>"
)

// thinkingAnswerHeadroom is added on top of the thinking budget when the
// caller's max_tokens would be consumed entirely by reasoning.
const thinkingAnswerHeadroom = 8192

// modelFamily classifies the served model for signature compatibility. The
// API fronts both Claude and Gemini model lines.
func modelFamily(model string) sigcache.Family {
	if strings.Contains(model, "claude") {
		return sigcache.FamilyClaude
	}
	return sigcache.FamilyGemini
}

// requestToAntigravity flattens a canonical request into the API's history
// shape. Total function, no I/O; signature lookups hit the in-process cache.
func requestToAntigravity(request *ai.MessagesRequest, signatures *sigcache.Cache) *chatRequest {
	family := modelFamily(request.Model)

	maxTokens := request.MaxTokens
	budget := 0
	if request.Thinking != nil {
		budget = request.Thinking.BudgetTokens
		if maxTokens <= budget {
			maxTokens = budget + thinkingAnswerHeadroom
		}
	}

	antigravityRequest := &chatRequest{
		Model:          request.Model,
		System:         collectSystemText(request),
		History:        buildHistory(request.Messages, family, signatures),
		MaxTokens:      maxTokens,
		Temperature:    request.Temperature,
		TopP:           request.TopP,
		TopK:           request.TopK,
		StopSequences:  request.StopSequences,
		ThinkingBudget: budget,
	}

	if len(request.Tools) > 0 {
		antigravityRequest.Tools = buildTools(request.Tools)
		antigravityRequest.ToolChoice = buildToolChoice(request.ToolChoice)
	}

	return antigravityRequest
}

func collectSystemText(request *ai.MessagesRequest) string {
	system := request.System
	for _, message := range request.Messages {
		if message.Role != ai.RoleSystem {
			continue
		}
		for _, block := range message.Content.AsBlocks() {
			if block.Type == ai.BlockText && block.Text != "" {
				if system != "" {
					system += "\n\n"
				}
				system += block.Text
			}
		}
	}
	return system
}

// buildHistory folds each message into flat entries: thinking and text blocks
// merge into one content entry with the thinking re-embedded between inline
// tags; tool calls and results become their own entries keyed by tool_use_id.
func buildHistory(messages []ai.Message, family sigcache.Family, signatures *sigcache.Cache) []historyEntry {
	var history []historyEntry

	for _, message := range messages {
		if message.Role == ai.RoleSystem {
			continue
		}
		role := string(message.Role)

		var text strings.Builder
		entriesBefore := len(history)

		for _, block := range message.Content.AsBlocks() {
			switch block.Type {
			case ai.BlockThinking:
				if block.Thinking != "" {
					text.WriteString(thinkingOpenTag)
					text.WriteString(block.Thinking)
					text.WriteString(thinkingCloseTag)
				}

			case ai.BlockText:
				text.WriteString(block.Text)

			case ai.BlockToolUse:
				if text.Len() > 0 {
					history = append(history, historyEntry{Role: role, Content: text.String()})
					text.Reset()
				}
				history = append(history, historyEntry{
					Role:      role,
					ToolUseID: block.ID,
					ToolName:  ai.SanitizeToolName(block.Name),
					ToolInput: block.Input,
					Signature: toolSignature(block.ID, family, signatures),
				})

			case ai.BlockToolResult:
				if text.Len() > 0 {
					history = append(history, historyEntry{Role: role, Content: text.String()})
					text.Reset()
				}
				history = append(history, historyEntry{
					Role:       role,
					ToolUseID:  block.ToolUseID,
					ToolResult: blockResultText(block),
					IsError:    block.IsError,
				})
			}
		}

		if text.Len() > 0 {
			history = append(history, historyEntry{Role: role, Content: text.String()})
		} else if len(history) == entriesBefore {
			// The API rejects a turn with no content at all.
			history = append(history, historyEntry{Role: role, Content: " "})
		}
	}

	return history
}

// toolSignature resolves the signature for a replayed tool call. Claude-line
// models validate leniently and accept the sentinel outright; Gemini-line
// models get the cached signature only when its family matches.
func toolSignature(toolUseID string, family sigcache.Family, signatures *sigcache.Cache) string {
	if signatures == nil {
		return sigcache.Sentinel
	}
	if family == sigcache.FamilyClaude {
		return signatures.ToolSignatureOrSentinel(toolUseID)
	}
	if signatures.IsCompatible(toolUseID, family) {
		if signature, ok := signatures.ToolSignature(toolUseID); ok {
			return signature
		}
	}
	return sigcache.Sentinel
}

func blockResultText(block ai.ContentBlock) string {
	if block.Content == nil {
		return ""
	}
	if block.Content.IsText() {
		return block.Content.Text
	}
	var text strings.Builder
	for _, inner := range block.Content.AsBlocks() {
		if inner.Type == ai.BlockText {
			text.WriteString(inner.Text)
		}
	}
	return text.String()
}

func buildTools(tools []ai.Tool) []toolDefinition {
	definitions := make([]toolDefinition, 0, len(tools))
	for _, t := range tools {
		definitions = append(definitions, toolDefinition{
			Name:        ai.SanitizeToolName(t.Name),
			Description: t.Description,
			InputSchema: jsonschema.Sanitize(t.InputSchema),
		})
	}
	return definitions
}

func buildToolChoice(choice *ai.ToolChoice) string {
	if choice == nil {
		return ""
	}
	switch choice.Type {
	case ai.ToolChoiceAny:
		return "any"
	case ai.ToolChoiceNone:
		return "none"
	case ai.ToolChoiceTool:
		return ai.SanitizeToolName(choice.Name)
	default:
		return "auto"
	}
}
