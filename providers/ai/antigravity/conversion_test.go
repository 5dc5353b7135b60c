package antigravity

import (
	"encoding/json"
	"testing"

	"github.com/modelrelay/modelrelay/internal/sigcache"
	"github.com/modelrelay/modelrelay/providers/ai"
)

const testSignature = "sig_0123456789abcdef0123456789abcdef"

func TestModelFamily(t *testing.T) {
	if got := modelFamily("claude-sonnet-4"); got != sigcache.FamilyClaude {
		t.Errorf("family = %q, want claude", got)
	}
	if got := modelFamily("gemini-2.5-flash"); got != sigcache.FamilyGemini {
		t.Errorf("family = %q, want gemini", got)
	}
}

func TestRequestToAntigravityFlattensHistory(t *testing.T) {
	request := &ai.MessagesRequest{
		Model:  "claude-sonnet-4",
		System: "be terse",
		Messages: []ai.Message{
			{Role: ai.RoleUser, Content: ai.TextContent("weather in Paris?")},
			{Role: ai.RoleAssistant, Content: ai.BlocksContent(
				ai.ContentBlock{Type: ai.BlockThinking, Thinking: "need the tool"},
				ai.ContentBlock{Type: ai.BlockText, Text: "Let me check."},
				ai.ContentBlock{Type: ai.BlockToolUse, ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Paris"}`)},
			)},
			{Role: ai.RoleUser, Content: ai.BlocksContent(
				ai.ContentBlock{Type: ai.BlockToolResult, ToolUseID: "toolu_1", Content: ptrContent(ai.TextContent("22C"))},
			)},
		},
	}

	antigravityRequest := requestToAntigravity(request, nil)
	if antigravityRequest.System != "be terse" {
		t.Errorf("system = %q", antigravityRequest.System)
	}

	history := antigravityRequest.History
	if len(history) != 4 {
		t.Fatalf("history = %d entries, want 4: %+v", len(history), history)
	}

	if history[0].Role != "user" || history[0].Content != "weather in Paris?" {
		t.Errorf("entry 0 = %+v", history[0])
	}

	// Thinking re-embedded between inline tags, merged with the text.
	want := thinkingOpenTag + "need the tool" + thinkingCloseTag + "Let me check."
	if history[1].Content != want {
		t.Errorf("entry 1 content = %q, want %q", history[1].Content, want)
	}

	if history[2].ToolUseID != "toolu_1" || history[2].ToolName != "get_weather" {
		t.Errorf("entry 2 = %+v", history[2])
	}
	if history[2].Signature != sigcache.Sentinel {
		t.Errorf("entry 2 signature = %q, want sentinel with no cache", history[2].Signature)
	}

	if history[3].ToolUseID != "toolu_1" || history[3].ToolResult != "22C" {
		t.Errorf("entry 3 = %+v", history[3])
	}
}

func TestRequestToAntigravitySignatureByFamily(t *testing.T) {
	cache := sigcache.New()
	cache.StoreToolSignature("toolu_1", testSignature, sigcache.FamilyGemini)

	toolUse := ai.ContentBlock{Type: ai.BlockToolUse, ID: "toolu_1", Name: "t", Input: json.RawMessage(`{}`)}

	// Claude-line model: lenient, the cached signature replays regardless of family.
	claude := requestToAntigravity(&ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleAssistant, Content: ai.BlocksContent(toolUse)}},
	}, cache)
	if claude.History[0].Signature != testSignature {
		t.Errorf("claude signature = %q, want cached value", claude.History[0].Signature)
	}

	// Gemini-line model: strict, a gemini-family signature replays.
	gemini := requestToAntigravity(&ai.MessagesRequest{
		Model:    "gemini-2.5-flash",
		Messages: []ai.Message{{Role: ai.RoleAssistant, Content: ai.BlocksContent(toolUse)}},
	}, cache)
	if gemini.History[0].Signature != testSignature {
		t.Errorf("gemini signature = %q, want cached value", gemini.History[0].Signature)
	}

	// Gemini-line model with a claude-family signature: incompatible, sentinel.
	cache.StoreToolSignature("toolu_2", testSignature, sigcache.FamilyClaude)
	foreign := ai.ContentBlock{Type: ai.BlockToolUse, ID: "toolu_2", Name: "t", Input: json.RawMessage(`{}`)}
	crossed := requestToAntigravity(&ai.MessagesRequest{
		Model:    "gemini-2.5-flash",
		Messages: []ai.Message{{Role: ai.RoleAssistant, Content: ai.BlocksContent(foreign)}},
	}, cache)
	if crossed.History[0].Signature != sigcache.Sentinel {
		t.Errorf("crossed signature = %q, want sentinel", crossed.History[0].Signature)
	}
}

func TestRequestToAntigravityEmptyTurnPlaceholder(t *testing.T) {
	request := &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("")}},
	}
	history := requestToAntigravity(request, nil).History
	if len(history) != 1 || history[0].Content != " " {
		t.Errorf("history = %+v, want single space placeholder", history)
	}
}

func TestRequestToAntigravityThinkingBudget(t *testing.T) {
	request := &ai.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1000,
		Messages:  []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("hi")}},
		Thinking:  &ai.ThinkingConfig{BudgetTokens: 4000},
	}
	antigravityRequest := requestToAntigravity(request, nil)
	if antigravityRequest.ThinkingBudget != 4000 {
		t.Errorf("thinkingBudget = %d", antigravityRequest.ThinkingBudget)
	}
	if antigravityRequest.MaxTokens != 4000+thinkingAnswerHeadroom {
		t.Errorf("maxTokens = %d, want budget+headroom", antigravityRequest.MaxTokens)
	}
}

func TestRequestToAntigravitySanitizesTools(t *testing.T) {
	request := &ai.MessagesRequest{
		Model:    "claude-sonnet-4",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: ai.TextContent("hi")}},
		Tools: []ai.Tool{{
			Name:        "web search",
			InputSchema: json.RawMessage(`{"type":"object","$schema":"x","properties":{"q":{"type":"string"}}}`),
		}},
		ToolChoice: &ai.ToolChoice{Type: ai.ToolChoiceAuto},
	}

	antigravityRequest := requestToAntigravity(request, nil)
	tool := antigravityRequest.Tools[0]
	if tool.Name != "web_search" {
		t.Errorf("tool name = %q", tool.Name)
	}

	var schema map[string]any
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		t.Fatalf("schema does not parse: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("type = %v, want lower-case object", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("$schema survived sanitization")
	}

	if antigravityRequest.ToolChoice != "auto" {
		t.Errorf("toolChoice = %q", antigravityRequest.ToolChoice)
	}
}

func ptrContent(mc ai.MessageContent) *ai.MessageContent {
	return &mc
}
