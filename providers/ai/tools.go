package ai

import (
	"strings"

	"github.com/google/uuid"
)

// maxToolNameLength is the longest tool name upstream function-calling APIs
// accept.
const maxToolNameLength = 64

// NewToolUseID generates a tool-use id for upstreams that do not assign one.
// Stream parsers must mint the id themselves so the tool-start event and any
// signature event for the same call correlate.
func NewToolUseID() string {
	return "toolu_" + uuid.NewString()
}

// SanitizeToolName coerces a caller-supplied tool name into the character set
// upstreams accept: alphanumerics, underscore, and hyphen, at most 64 bytes.
// Disallowed characters become underscores. A name that sanitizes to nothing
// gets a generated fallback so the tool stays callable.
func SanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	sanitized := strings.Trim(b.String(), "_")
	if sanitized == "" {
		return "tool_" + uuid.NewString()[:8]
	}
	if len(sanitized) > maxToolNameLength {
		sanitized = sanitized[:maxToolNameLength]
	}
	return sanitized
}
