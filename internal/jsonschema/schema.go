package jsonschema

import "encoding/json"

// Schema is a typed JSON Schema node for callers that build tool definitions
// in code rather than passing raw JSON. It covers exactly the keyword subset
// that survives sanitization.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
}

// Raw encodes the schema for use as a tool's input schema. Encoding a Schema
// cannot fail in practice; the degenerate error path returns the minimal
// object schema.
func (s *Schema) Raw() json.RawMessage {
	if s == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return encoded
}
