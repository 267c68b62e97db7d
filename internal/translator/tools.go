package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
)

const fallbackParamType = "string"

// BuildToolDefinitions converts OpenAI function tools into backend tool
// definitions. Each JSON Schema property becomes a parameter carrying its
// type and description. The schema's required list has no backend
// counterpart and is not forwarded.
func BuildToolDefinitions(tools []openai.Tool) ([]stack.ToolDefinition, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	defs := make([]stack.ToolDefinition, 0, len(tools))
	for i, tool := range tools {
		if tool.Type != "" && tool.Type != openai.ToolTypeFunction {
			return nil, fmt.Errorf("%w: tools[%d]: unsupported tool type %q", openai.ErrInvalidRequest, i, tool.Type)
		}
		name := strings.TrimSpace(tool.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tools[%d]: function name must not be empty", openai.ErrInvalidRequest, i)
		}

		params, err := buildToolParams(tool.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: tools[%d] %s: %v", openai.ErrInvalidRequest, i, name, err)
		}

		defs = append(defs, stack.ToolDefinition{
			ToolName:    name,
			Description: tool.Function.Description,
			Parameters:  params,
		})
	}
	return defs, nil
}

func buildToolParams(raw json.RawMessage) (map[string]stack.ToolParamDefinition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(trimmed, &schema); err != nil {
		return nil, fmt.Errorf("parse parameters schema: %w", err)
	}
	if len(schema.Properties) == 0 {
		return nil, nil
	}

	params := make(map[string]stack.ToolParamDefinition, len(schema.Properties))
	for name, prop := range schema.Properties {
		def := stack.ToolParamDefinition{ParamType: fallbackParamType}
		if prop != nil {
			if t := schemaType(prop); t != "" {
				def.ParamType = t
			}
			def.Description = prop.Description
		}
		params[name] = def
	}
	return params, nil
}

// schemaType returns the first non-null type of a property.
func schemaType(s *jsonschema.Schema) string {
	if s.Type != "" {
		return s.Type
	}
	for _, t := range s.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}

// BuildToolConfig forwards the caller's tool_choice. It is not checked
// against the offered tools.
func BuildToolConfig(choice *openai.ToolChoice) *stack.ToolConfig {
	if choice == nil {
		return nil
	}
	if choice.FunctionName != "" {
		return &stack.ToolConfig{ToolChoice: choice.FunctionName}
	}
	if choice.Mode != "" {
		return &stack.ToolConfig{ToolChoice: choice.Mode}
	}
	return nil
}

// DecodeToolCalls converts the backend's tool calls into OpenAI tool
// calls. Argument JSON is copied as text, not re-encoded.
func DecodeToolCalls(msg stack.CompletionMessage) []openai.ToolCall {
	if len(msg.ToolCalls) == 0 {
		return nil
	}

	calls := make([]openai.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, openai.ToolCall{
			ID:   tc.CallID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.ToolName,
				Arguments: argumentsText(tc),
			},
		})
	}
	return calls
}

func argumentsText(tc stack.ToolCall) string {
	if tc.ArgumentsJSON != "" {
		return tc.ArgumentsJSON
	}

	raw := bytes.TrimSpace(tc.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}"
	}
	// Some providers send the arguments already serialized as a string.
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return text
		}
	}
	return string(raw)
}
