package util

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ReflectSchema creates a JSON schema map from a Go value using struct tags
// (json, jsonschema, jsonschema_description). Definitions are inlined and the
// $schema/$id keys are dropped so the map can be sent to a model as is.
// Values that are not structs (or pointers to structs) yield an empty object
// schema.
func ReflectSchema(v any) (schema map[string]any, err error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return emptyObjectSchema(), nil
	}

	defer func() {
		if r := recover(); r != nil {
			schema, err = nil, fmt.Errorf("reflect schema for %s: %v", t, r)
		}
	}()

	// Expansion looks the root up by type name; unnamed structs are
	// inlined directly.
	reflector := &jsonschema.Reflector{
		ExpandedStruct: t.Name() != "",
		DoNotReference: true,
	}

	data, err := json.Marshal(reflector.ReflectFromType(t))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	delete(schema, "$schema")
	delete(schema, "$id")
	delete(schema, "$defs")

	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}

	return schema, nil
}

// CreateSchema is ReflectSchema for argument structs. A value that cannot be
// reflected yields an empty object schema.
func CreateSchema(structType any) map[string]any {
	schema, err := ReflectSchema(structType)
	if err != nil || schema["type"] != "object" {
		return emptyObjectSchema()
	}
	return schema
}

func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// RequiredFields returns the "required" list of a schema whether it was built
// in Go ([]string) or decoded from JSON ([]any).
func RequiredFields(schema map[string]any) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []any:
		out := make([]string, 0, len(required))
		for _, r := range required {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ValidateParameters validates parameters against a JSON schema.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, fieldName := range RequiredFields(schema) {
		if _, exists := params[fieldName]; !exists {
			return &ValidationError{
				Field:   fieldName,
				Message: "required field is missing",
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for fieldName, value := range params {
		propSchema, exists := properties[fieldName]
		if !exists {
			continue // Allow extra fields
		}

		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}

		expectedType, _ := propMap["type"].(string)
		if !isValidType(value, expectedType) {
			return &ValidationError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", expectedType, value),
			}
		}
	}

	return nil
}

// DecodeArgs converts validated map arguments into a typed struct.
func DecodeArgs(args map[string]any, target any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON numbers decode as float64
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
