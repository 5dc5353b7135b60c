package gemini

import (
	"encoding/json"

	"github.com/modelrelay/modelrelay/internal/jsonschema"
	"github.com/modelrelay/modelrelay/internal/sigcache"
	"github.com/modelrelay/modelrelay/providers/ai"
)

// thinkingAnswerHeadroom is added on top of the thinking budget when the
// caller's max_tokens would be consumed entirely by reasoning, so the model
// has room to answer after it thinks.
const thinkingAnswerHeadroom = 8192

// interleavedThinkingHint is appended to the system instruction when a
// request combines thinking with tools. Without it the model tends to stop
// reasoning after the first function call.
const interleavedThinkingHint = "You may think between tool calls: after receiving a tool result, " +
	"reason about it before deciding on the next tool call or the final answer."

// requestToGemini translates a canonical request into the Gemini dialect.
// It is a total function with no I/O; signature lookups hit the in-process
// cache only.
func requestToGemini(request *ai.MessagesRequest, signatures *sigcache.Cache) *generateContentRequest {
	capabilities := detectCapabilities(request.Model)

	geminiRequest := &generateContentRequest{
		Contents:         buildContents(request.Messages, signatures),
		GenerationConfig: buildGenerationConfig(request, capabilities),
	}

	system := collectSystemText(request)
	if request.Thinking != nil && len(request.Tools) > 0 {
		if system != "" {
			system += "\n\n"
		}
		system += interleavedThinkingHint
	}
	if system != "" {
		geminiRequest.SystemInstruction = &systemInstruction{Parts: []part{{Text: system}}}
	}

	if len(request.Tools) > 0 {
		geminiRequest.Tools = buildTools(request.Tools)
		geminiRequest.ToolConfig = buildToolConfig(request.ToolChoice)
	}

	return geminiRequest
}

// collectSystemText merges the request's system field with any system-role
// messages; Gemini has no system role, only the systemInstruction slot.
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

// buildContents maps conversation turns to Gemini contents. System messages
// are skipped here (they go to systemInstruction) and every turn is
// guaranteed at least one non-empty part since the API rejects empty content.
func buildContents(messages []ai.Message, signatures *sigcache.Cache) []content {
	toolNames := toolNamesByID(messages)

	var contents []content
	for _, message := range messages {
		if message.Role == ai.RoleSystem {
			continue
		}

		role := "user"
		if message.Role == ai.RoleAssistant {
			role = "model"
		}

		var parts []part
		for _, block := range message.Content.AsBlocks() {
			if p, ok := blockToPart(block, toolNames, signatures); ok {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			parts = []part{{Text: " "}}
		}

		contents = append(contents, content{Role: role, Parts: parts})
	}
	return contents
}

// toolNamesByID indexes tool_use blocks so tool_result blocks, which carry
// only the id, can be translated to functionResponse parts (Gemini correlates
// by function name, not id).
func toolNamesByID(messages []ai.Message) map[string]string {
	names := make(map[string]string)
	for _, message := range messages {
		for _, block := range message.Content.AsBlocks() {
			if block.Type == ai.BlockToolUse && block.ID != "" {
				names[block.ID] = block.Name
			}
		}
	}
	return names
}

func blockToPart(block ai.ContentBlock, toolNames map[string]string, signatures *sigcache.Cache) (part, bool) {
	switch block.Type {
	case ai.BlockText:
		return part{Text: block.Text}, block.Text != ""

	case ai.BlockThinking:
		return part{
			Text:             block.Thinking,
			Thought:          true,
			ThoughtSignature: thinkingSignature(block, signatures),
		}, block.Thinking != ""

	case ai.BlockToolUse:
		args := block.Input
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return part{
			FunctionCall:     &functionCall{Name: ai.SanitizeToolName(block.Name), Args: args},
			ThoughtSignature: toolSignature(block.ID, signatures),
		}, true

	case ai.BlockToolResult:
		return part{FunctionResponse: &functionResponse{
			Name:     ai.SanitizeToolName(toolNames[block.ToolUseID]),
			Response: toolResultResponse(block),
		}}, true

	case ai.BlockImage, ai.BlockDocument:
		if block.Source == nil {
			return part{}, false
		}
		if block.Source.Type == "url" {
			return part{FileData: &fileData{MimeType: block.Source.MediaType, FileURI: block.Source.URL}}, true
		}
		return part{InlineData: &inlineData{MimeType: block.Source.MediaType, Data: block.Source.Data}}, true
	}

	return part{}, false
}

// thinkingSignature resolves the signature a thinking block must carry back
// to the API: the block's own signature when present, else the cached one,
// else the sentinel so the API skips validation it cannot pass.
func thinkingSignature(block ai.ContentBlock, signatures *sigcache.Cache) string {
	if block.Signature != "" {
		return block.Signature
	}
	if signatures != nil {
		if signature, ok := signatures.ThinkingSignature(block.Thinking); ok {
			return signature
		}
	}
	return sigcache.Sentinel
}

// toolSignature resolves the signature for a replayed function call. Gemini
// validates strictly, so an unknown or foreign-family signature is replaced
// with the sentinel rather than replayed.
func toolSignature(toolUseID string, signatures *sigcache.Cache) string {
	if signatures != nil && signatures.IsCompatible(toolUseID, sigcache.FamilyGemini) {
		if signature, ok := signatures.ToolSignature(toolUseID); ok {
			return signature
		}
	}
	return sigcache.Sentinel
}

// toolResultResponse wraps a tool_result block's content as the JSON object
// functionResponse requires.
func toolResultResponse(block ai.ContentBlock) json.RawMessage {
	text := ""
	if block.Content != nil {
		if block.Content.IsText() {
			text = block.Content.Text
		} else {
			for _, inner := range block.Content.AsBlocks() {
				if inner.Type == ai.BlockText {
					text += inner.Text
				}
			}
		}
	}

	payload := map[string]any{"result": text}
	if block.IsError {
		payload = map[string]any{"error": text}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{"result":""}`)
	}
	return encoded
}

// buildGenerationConfig translates sampling parameters and the thinking
// budget. When thinking is requested, max_tokens is raised above the budget
// (the budget is consumed before any answer tokens) and then clamped to the
// model's output ceiling.
func buildGenerationConfig(request *ai.MessagesRequest, capabilities Capabilities) *generationConfig {
	maxTokens := request.MaxTokens

	var thinking *thinkingConfig
	if request.Thinking != nil && capabilities.SupportsThinking {
		budget := request.Thinking.BudgetTokens
		if maxTokens <= budget {
			maxTokens = budget + thinkingAnswerHeadroom
		}
		thinking = &thinkingConfig{ThinkingBudget: &budget, IncludeThoughts: true}
	}

	if capabilities.MaxOutputTokens > 0 && maxTokens > capabilities.MaxOutputTokens {
		maxTokens = capabilities.MaxOutputTokens
	}

	config := &generationConfig{
		Temperature:    request.Temperature,
		TopP:           request.TopP,
		TopK:           request.TopK,
		StopSequences:  request.StopSequences,
		ThinkingConfig: thinking,
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = &maxTokens
	}
	return config
}

// buildTools sanitizes each tool's schema into the strict subset Gemini
// accepts, with upper-cased type names.
func buildTools(tools []ai.Tool) []tool {
	declarations := make([]functionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, functionDeclaration{
			Name:        ai.SanitizeToolName(t.Name),
			Description: t.Description,
			Parameters:  jsonschema.Sanitize(t.InputSchema, jsonschema.WithUppercaseTypes()),
		})
	}
	return []tool{{FunctionDeclarations: declarations}}
}

func buildToolConfig(choice *ai.ToolChoice) *toolConfig {
	if choice == nil {
		return nil
	}

	config := &functionCallingConfig{}
	switch choice.Type {
	case ai.ToolChoiceNone:
		config.Mode = "NONE"
	case ai.ToolChoiceAny:
		config.Mode = "ANY"
	case ai.ToolChoiceTool:
		config.Mode = "ANY"
		config.AllowedFunctionNames = []string{ai.SanitizeToolName(choice.Name)}
	default:
		config.Mode = "AUTO"
	}
	return &toolConfig{FunctionCallingConfig: config}
}

// chunkToEvents converts one generateContentResponse (a streaming chunk or a
// complete response) into provider events. Gemini delivers function calls
// whole, so each one becomes a single tool-start with its full input.
func chunkToEvents(response *generateContentResponse) []ai.Event {
	var events []ai.Event

	if len(response.Candidates) > 0 {
		candidate := response.Candidates[0]
		if candidate.Content != nil {
			for _, p := range candidate.Content.Parts {
				events = append(events, partToEvents(p)...)
			}
		}
		if candidate.FinishReason != "" {
			events = append(events, ai.Event{Kind: ai.EventStop, StopReason: mapFinishReason(candidate.FinishReason)})
		}
	}

	if response.UsageMetadata != nil {
		events = append(events, ai.Event{Kind: ai.EventUsage, Usage: &ai.Usage{
			InputTokens:          response.UsageMetadata.PromptTokenCount,
			OutputTokens:         response.UsageMetadata.CandidatesTokenCount + response.UsageMetadata.ThoughtsTokenCount,
			CacheReadInputTokens: response.UsageMetadata.CachedContentTokenCount,
		}})
	}

	if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
		events = append(events, ai.Event{Kind: ai.EventError, Err: &ai.ErrorDetail{
			Type:    "invalid_request_error",
			Message: "prompt blocked: " + response.PromptFeedback.BlockReason,
		}})
	}

	return events
}

func partToEvents(p part) []ai.Event {
	var events []ai.Event

	if p.FunctionCall != nil {
		toolID := ai.NewToolUseID()
		events = append(events, ai.Event{
			Kind:     ai.EventToolStart,
			ToolID:   toolID,
			ToolName: p.FunctionCall.Name,
			Input:    string(p.FunctionCall.Args),
		})
		if p.ThoughtSignature != "" {
			events = append(events, ai.Event{Kind: ai.EventSignature, ToolID: toolID, Signature: p.ThoughtSignature})
		}
		return events
	}

	if p.Text != "" {
		kind := ai.EventContent
		if p.Thought {
			kind = ai.EventThinking
		}
		events = append(events, ai.Event{Kind: kind, Text: p.Text})
	}
	if p.Thought && p.ThoughtSignature != "" {
		events = append(events, ai.Event{Kind: ai.EventSignature, Signature: p.ThoughtSignature})
	}

	return events
}

func mapFinishReason(reason string) ai.StopReason {
	switch reason {
	case "STOP":
		return ai.StopEndTurn
	case "MAX_TOKENS":
		return ai.StopMaxTokens
	default:
		return ai.StopEndTurn
	}
}
