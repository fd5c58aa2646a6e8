package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// stripCodeFence removes a surrounding markdown code fence such as ```json ... ```.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for use with AI structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// SchemaJSON renders the schema of value as indented JSON for prompt based
// structured output on providers without native schema support.
func SchemaJSON(value any) string {
	b, err := json.MarshalIndent(GenerateSchema(value), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple fallback strategies.
// It first tries standard JSON unmarshaling, then handles double-encoded JSON strings,
// and finally attempts to repair malformed JSON before parsing.
//
// This is useful for parsing AI-generated JSON which may be malformed or wrapped in strings.
//
// Example:
//
//	var result MyStruct
//	// All of these inputs would work:
//	UnmarshalFlexible(`{"name": "test"}`, &result)           // standard JSON
//	UnmarshalFlexible(`"{\"name\": \"test\"}"`, &result)     // double-encoded
//	UnmarshalFlexible(`{name: "test"}`, &result)             // malformed (repaired)
func UnmarshalFlexible(input string, out any) error {
	input = stripCodeFence(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = stripCodeFence(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}

// DecodeStructured parses raw model output into out and runs its Validate
// method when present. Every failure is reported as *StructuredOutputError.
func DecodeStructured(name, raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		return &StructuredOutputError{Name: name, Raw: raw, Err: fmt.Errorf("empty response")}
	}
	if err := UnmarshalFlexible(raw, out); err != nil {
		return &StructuredOutputError{Name: name, Raw: raw, Err: err}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &StructuredOutputError{Name: name, Raw: raw, Err: err}
		}
	}
	return nil
}

// StructuredPrompt appends the JSON schema of out to prompt for providers
// that only support a generic JSON mode.
func StructuredPrompt(name, description, prompt string, out any) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n# Output Format\n")
	if description != "" {
		fmt.Fprintf(&b, "Return %s: %s\n", name, description)
	}
	b.WriteString("Respond with a single JSON object that validates against this JSON schema. ")
	b.WriteString("Do not add prose or markdown fences.\n\n")
	b.WriteString(SchemaJSON(out))
	return b.String()
}
