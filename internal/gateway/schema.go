package gateway

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema attached to a service method. The raw
// document is kept for the introspection endpoints.
type Schema struct {
	compiled *jsonschema.Schema
	raw      json.RawMessage
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(raw string) (*Schema, error) {
	compiled, err := jsonschema.CompileString("schema.json", raw)
	if err != nil {
		return nil, err
	}
	return &Schema{
		compiled: compiled,
		raw:      json.RawMessage(raw),
	}, nil
}

// MustCompileSchema compiles a JSON Schema document or panics. Service
// packages use it for their static method schemas.
func MustCompileSchema(raw string) *Schema {
	s, err := CompileSchema(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the schema document for introspection.
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Validate checks data against the schema. Failures come back as a
// ServiceBadRequestError with the failing path and message in the payload.
func (s *Schema) Validate(data interface{}) error {
	err := s.compiled.Validate(data)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		validationErr = leafCause(ve)
	}
	payload := map[string]interface{}{
		"error_path":    []string{},
		"error_message": err.Error(),
	}
	if validationErr != nil {
		payload["error_path"] = pointerSegments(validationErr.InstanceLocation)
		payload["error_message"] = validationErr.Message
	}
	return NewBadRequestError("Input schema error").WithPayload(payload).WithCause(err)
}

// leafCause walks to the most specific validation failure.
func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

// pointerSegments splits a JSON pointer into its unescaped path segments.
func pointerSegments(pointer string) []string {
	trimmed := strings.TrimPrefix(pointer, "/")
	if trimmed == "" {
		return []string{}
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}
