// Package jsonschema normalizes caller-supplied JSON Schemas into the strict
// subset reasoning upstreams accept. Callers hand over arbitrary schemas
// (draft keywords, $refs, unions); providers reject unknown keywords outright,
// so everything outside a small allow-list is dropped rather than forwarded.
package jsonschema

import (
	"encoding/json"
	"strings"
)

// allowedKeywords is the schema vocabulary that survives sanitization. Every
// other keyword, known or not, is removed.
var allowedKeywords = map[string]bool{
	"type":        true,
	"description": true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
}

// placeholderProperty is injected into object schemas that end up with no
// properties. Several upstreams reject a parameter object with an empty
// property map, and a free-form reason field keeps the tool callable without
// changing its meaning.
const placeholderProperty = "reason"

type sanitizer struct {
	uppercaseTypes bool
}

// Option configures sanitization for a provider dialect.
type Option func(*sanitizer)

// WithUppercaseTypes emits type names in upper case ("STRING", "OBJECT") for
// upstreams that use enum-style type constants instead of JSON Schema names.
func WithUppercaseTypes() Option {
	return func(s *sanitizer) { s.uppercaseTypes = true }
}

// Sanitize normalizes a raw schema document. Input that does not parse as a
// JSON object degrades to a minimal permissive object schema instead of
// failing the request.
func Sanitize(raw json.RawMessage, opts ...Option) json.RawMessage {
	s := &sanitizer{}
	for _, opt := range opts {
		opt(s)
	}

	var schema map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &schema) != nil || schema == nil {
		schema = map[string]any{"type": "object"}
	}

	cleaned := s.sanitizeNode(schema)
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return encoded
}

// SanitizeMap normalizes an already-decoded schema node.
func SanitizeMap(schema map[string]any, opts ...Option) map[string]any {
	s := &sanitizer{}
	for _, opt := range opts {
		opt(s)
	}
	return s.sanitizeNode(schema)
}

func (s *sanitizer) sanitizeNode(node map[string]any) map[string]any {
	cleaned := make(map[string]any)

	// const is not in the allow-list but is losslessly expressible as a
	// single-value enum, so promote it before the keyword filter runs.
	if constValue, ok := node["const"]; ok {
		if _, hasEnum := node["enum"]; !hasEnum {
			cleaned["enum"] = []any{constValue}
		}
	}

	for keyword, value := range node {
		if !allowedKeywords[keyword] {
			continue
		}
		switch keyword {
		case "type":
			cleaned["type"] = s.sanitizeType(value)
		case "properties":
			if properties, ok := value.(map[string]any); ok {
				cleaned["properties"] = s.sanitizeProperties(properties)
			}
		case "items":
			switch items := value.(type) {
			case map[string]any:
				cleaned["items"] = s.sanitizeNode(items)
			case []any:
				// Array-form items (positional tuples) collapse to the first
				// schema, the same rule union type arrays follow.
				for _, candidate := range items {
					if child, ok := candidate.(map[string]any); ok {
						cleaned["items"] = s.sanitizeNode(child)
						break
					}
				}
			}
		case "required":
			// Filtered below once the surviving properties are known.
		default:
			cleaned[keyword] = value
		}
	}

	// Untyped nodes are treated as objects, which also covers the empty
	// schema: {} means "any object" and must still carry an explicit type.
	if _, hasType := cleaned["type"]; !hasType {
		cleaned["type"] = s.typeName("object")
	}

	if s.typeOf(cleaned) == "object" {
		properties, _ := cleaned["properties"].(map[string]any)
		_, hasEnum := cleaned["enum"]
		if len(properties) == 0 && !hasEnum {
			cleaned["properties"] = map[string]any{
				placeholderProperty: map[string]any{
					"type":        s.typeName("string"),
					"description": "Brief explanation of why this tool is being called",
				},
			}
			cleaned["required"] = []string{placeholderProperty}
		} else if required := s.filterRequired(node, cleaned); len(required) > 0 {
			cleaned["required"] = required
		}
	}

	return cleaned
}

// sanitizeType reduces a type declaration to a single name: union arrays keep
// their first non-null entry, and anything unrecognizable becomes "object".
func (s *sanitizer) sanitizeType(value any) string {
	switch typed := value.(type) {
	case string:
		return s.typeName(typed)
	case []any:
		for _, candidate := range typed {
			name, ok := candidate.(string)
			if ok && name != "null" {
				return s.typeName(name)
			}
		}
	}
	return s.typeName("object")
}

func (s *sanitizer) sanitizeProperties(properties map[string]any) map[string]any {
	cleaned := make(map[string]any, len(properties))
	for name, value := range properties {
		child, ok := value.(map[string]any)
		if !ok {
			continue
		}
		cleaned[name] = s.sanitizeNode(child)
	}
	return cleaned
}

// filterRequired keeps only required names that still exist as properties
// after sanitization; upstreams reject required entries with no definition.
func (s *sanitizer) filterRequired(original, cleaned map[string]any) []string {
	var names []string
	switch typed := original["required"].(type) {
	case []any:
		for _, candidate := range typed {
			if name, ok := candidate.(string); ok {
				names = append(names, name)
			}
		}
	case []string:
		names = typed
	default:
		return nil
	}
	properties, _ := cleaned["properties"].(map[string]any)

	var required []string
	for _, name := range names {
		if _, exists := properties[name]; exists {
			required = append(required, name)
		}
	}
	return required
}

// typeOf reads the cleaned node's type in canonical lower case.
func (s *sanitizer) typeOf(node map[string]any) string {
	name, _ := node["type"].(string)
	return strings.ToLower(name)
}

func (s *sanitizer) typeName(name string) string {
	if s.uppercaseTypes {
		return strings.ToUpper(name)
	}
	return strings.ToLower(name)
}
