package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// Param declares one input field of a capability.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	// Items is the element type for array params.
	Items string
}

// Spec describes a capability to the model and to local validation.
type Spec struct {
	Name        string
	Description string
	Params      []Param
}

// Schema renders the JSON Schema object for the capability's input.
func (s Spec) Schema() map[string]any {
	properties := make(map[string]any, len(s.Params))
	required := make([]any, 0, len(s.Params))
	for _, param := range s.Params {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		if param.Type == "array" && param.Items != "" {
			prop["items"] = map[string]any{"type": param.Items}
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// withDefaults returns a copy of input with declared defaults filled in.
func (s Spec) withDefaults(input map[string]any) map[string]any {
	out := make(map[string]any, len(input)+len(s.Params))
	for key, value := range input {
		out[key] = value
	}
	for _, param := range s.Params {
		if _, ok := out[param.Name]; !ok && param.Default != nil {
			out[param.Name] = param.Default
		}
	}
	return out
}

// StringArg returns input[key] as a string.
func StringArg(input map[string]any, key string) string {
	value, _ := input[key].(string)
	return value
}

// IntArg returns input[key] as an int, or fallback when absent or not a
// whole number.
func IntArg(input map[string]any, key string, fallback int) int {
	switch value := input[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		if value == math.Trunc(value) {
			return int(value)
		}
	case json.Number:
		if n, err := value.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// StringsArg returns input[key] as a string slice, skipping non-strings.
func StringsArg(input map[string]any, key string) []string {
	switch value := input[key].(type) {
	case []string:
		return append([]string(nil), value...)
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if value != "" {
			return []string{value}
		}
	}
	return nil
}

func requireString(input map[string]any, key string) (string, error) {
	value := StringArg(input, key)
	if value == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}
