package gemini

import "strings"

// Capabilities describes what the Gemini API supports for a specific model.
// These are informational only and drive request shaping (thinking config,
// output-token clamping); the API remains the authority and rejects
// unsupported features itself.
type Capabilities struct {
	SupportsThinking bool
	// MaxOutputTokens is the hard per-model output ceiling. Requests asking
	// for more are clamped, not rejected.
	MaxOutputTokens int
}

// modelCapabilities maps model-name prefixes to capabilities. Longest prefix
// wins so "gemini-2.5-flash-lite" matches ahead of "gemini-2.5-flash".
var modelCapabilities = map[string]Capabilities{
	"gemini-2.5-pro":        {SupportsThinking: true, MaxOutputTokens: 65536},
	"gemini-2.5-flash":      {SupportsThinking: true, MaxOutputTokens: 65536},
	"gemini-2.5-flash-lite": {SupportsThinking: true, MaxOutputTokens: 65536},
	"gemini-2.0-flash":      {SupportsThinking: false, MaxOutputTokens: 8192},
	"gemini-1.5-pro":        {SupportsThinking: false, MaxOutputTokens: 8192},
	"gemini-1.5-flash":      {SupportsThinking: false, MaxOutputTokens: 8192},
}

// detectCapabilities returns the capabilities for a model by longest-prefix
// match. Unknown models get conservative defaults: thinking on (the API
// ignores the config when unsupported) and the smaller output ceiling.
func detectCapabilities(model string) Capabilities {
	best := ""
	for prefix := range modelCapabilities {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelCapabilities[best]
	}
	return Capabilities{SupportsThinking: true, MaxOutputTokens: 8192}
}
