package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hupe1980/agentrun/internal/util"
)

// ErrUnparseable is returned by Parse when the text is not valid JSON even
// after fence stripping.
var ErrUnparseable = errors.New("output: response is not valid JSON")

// Schema describes the structured value an agent must answer with.
type Schema struct {
	// Fields lists the top-level field names in declaration order.
	Fields []string
	// Properties holds the JSON schema of each field (may be empty for
	// plain field lists).
	Properties map[string]any

	target reflect.Type
}

// SchemaFor reflects a Go value (usually a zero struct) into a Schema.
// Parse then decodes answers into a new value of the same type.
func SchemaFor(sample any) (*Schema, error) {
	if sample == nil {
		return nil, fmt.Errorf("output: nil sample")
	}

	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	raw, err := util.ReflectSchema(reflect.New(t).Interface())
	if err != nil {
		return nil, fmt.Errorf("output: reflect schema: %w", err)
	}

	props, _ := raw["properties"].(map[string]any)
	for name, p := range props {
		if m, ok := p.(map[string]any); ok {
			delete(m, "title")
			props[name] = m
		}
	}

	return &Schema{
		Fields:     fieldOrder(t, props),
		Properties: props,
		target:     t,
	}, nil
}

// FieldsSchema builds a Schema from a plain list of field names. Parse
// decodes answers into map[string]any.
func FieldsSchema(fields ...string) *Schema {
	return &Schema{Fields: fields}
}

// Prompt renders the instruction block appended to the system prompt.
func (s *Schema) Prompt() string {
	var b strings.Builder

	b.WriteString("\nProvide your output as a JSON containing the following fields:")
	if len(s.Fields) > 0 {
		fields, _ := json.Marshal(s.Fields)
		b.WriteString("\n<json_fields>\n")
		b.Write(fields)
		b.WriteString("\n</json_fields>")
	}
	if len(s.Properties) > 0 {
		props, _ := json.MarshalIndent(s.Properties, "", "  ")
		b.WriteString("\nHere are the properties for each field:")
		b.WriteString("\n<json_field_properties>\n")
		b.Write(props)
		b.WriteString("\n</json_field_properties>")
	}
	b.WriteString("\nStart your response with `{` and end it with `}`.")
	b.WriteString("\nYour output will be parsed as JSON. Make sure it only contains valid JSON.")

	return b.String()
}

// Parse decodes text into the schema's type (or map[string]any). When the
// raw text does not decode, common code-fence wrapping is stripped and
// decoding is retried once.
func (s *Schema) Parse(text string) (any, error) {
	v, err := s.decode(text)
	if err == nil {
		return v, nil
	}

	stripped := StripFences(text)
	if stripped == strings.TrimSpace(text) {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	v, err = s.decode(stripped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return v, nil
}

func (s *Schema) decode(text string) (any, error) {
	data := []byte(strings.TrimSpace(text))

	if s.target == nil {
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	ptr := reflect.New(s.target)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

// StripFences removes a surrounding markdown code fence (``` or ```json)
// and any prose outside it. Text without a fence is returned trimmed.
func StripFences(text string) string {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	inner := text[start+3:]
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.ContainsAny(inner[:nl], "{[") {
		inner = inner[nl+1:] // language tag
	}
	if end := strings.LastIndex(inner, "```"); end >= 0 {
		inner = inner[:end]
	}
	return strings.TrimSpace(inner)
}

// fieldOrder lists property names in struct declaration order; names not
// backed by a struct field are appended sorted.
func fieldOrder(t reflect.Type, props map[string]any) []string {
	var (
		names []string
		seen  = make(map[string]bool, len(props))
	)
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag == "-" {
				continue
			} else if tag != "" {
				name = tag
			}
			if _, ok := props[name]; ok && !seen[name] {
				names = append(names, name)
				seen[name] = true
			}
		}
	}

	var rest []string
	for name := range props {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
