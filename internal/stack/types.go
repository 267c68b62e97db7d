package stack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// StopReason is the backend's termination vocabulary.
type StopReason string

const (
	StopReasonEndOfTurn    StopReason = "end_of_turn"
	StopReasonEndOfMessage StopReason = "end_of_message"
	StopReasonOutOfTokens  StopReason = "out_of_tokens"
)

// Roles understood by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// StrategyType discriminates the sampling strategy union.
type StrategyType string

const (
	StrategyGreedy StrategyType = "greedy"
	StrategyTopP   StrategyType = "top_p"
)

// SamplingStrategy is a tagged union. Temperature and TopP are only
// populated for StrategyTopP.
type SamplingStrategy struct {
	Type        StrategyType `json:"type"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
}

// GreedyStrategy selects deterministic decoding.
func GreedyStrategy() SamplingStrategy {
	return SamplingStrategy{Type: StrategyGreedy}
}

// TopPStrategy selects nucleus sampling.
func TopPStrategy(temperature, topP float64) SamplingStrategy {
	return SamplingStrategy{
		Type:        StrategyTopP,
		Temperature: &temperature,
		TopP:        &topP,
	}
}

// SamplingParams configures decoding for a single backend call.
type SamplingParams struct {
	Strategy  SamplingStrategy `json:"strategy"`
	MaxTokens *int             `json:"max_tokens,omitempty"`
}

// ResponseFormatType enumerates constrained-output formats.
type ResponseFormatType string

const ResponseFormatJSONSchema ResponseFormatType = "json_schema"

// ResponseFormat constrains generation to a schema.
type ResponseFormat struct {
	Type       ResponseFormatType `json:"type"`
	JSONSchema *jsonschema.Schema `json:"json_schema,omitempty"`
}

// ContentItem is one element of interleaved message content.
type ContentItem struct {
	Type  string        `json:"type"`
	Text  string        `json:"text,omitempty"`
	Image *ImageContent `json:"image,omitempty"`
}

// ImageContent references an image either by URL or inline data.
type ImageContent struct {
	URL  *URL   `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
}

// URL wraps a URI the way the backend expects.
type URL struct {
	URI string `json:"uri"`
}

// Content is the backend's interleaved content: either a bare string or
// a list of items. A nil Items slice encodes as a string.
type Content struct {
	Text  string
	Items []ContentItem
}

// TextContent builds string content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// IsItems reports whether the content encodes as an item list.
func (c Content) IsItems() bool {
	return c.Items != nil
}

// String flattens the content to its text.
func (c Content) String() string {
	if !c.IsItems() {
		return c.Text
	}
	var buf bytes.Buffer
	for _, item := range c.Items {
		if item.Type == "text" {
			buf.WriteString(item.Text)
		}
	}
	return buf.String()
}

// MarshalJSON encodes either a string or an item list.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsItems() {
		return json.Marshal(c.Items)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string, a single item, or a list of items.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("decode content string: %w", err)
		}
		*c = Content{Text: text}
	case '[':
		var items []ContentItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("decode content items: %w", err)
		}
		*c = Content{Items: items}
	case '{':
		var item ContentItem
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return fmt.Errorf("decode content item: %w", err)
		}
		*c = Content{Items: []ContentItem{item}}
	default:
		return errors.New("unsupported content encoding")
	}
	return nil
}

// ToolCall is a tool invocation emitted by (or replayed to) the model.
// ArgumentsJSON carries the raw JSON text of Arguments.
type ToolCall struct {
	CallID        string          `json:"call_id"`
	ToolName      string          `json:"tool_name"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	ArgumentsJSON string          `json:"arguments_json,omitempty"`
}

// Message is a backend chat message. Tool results correlate through
// CallID.
type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	CallID     string     `json:"call_id,omitempty"`
	StopReason StopReason `json:"stop_reason,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolParamDefinition describes one tool parameter. The backend model has
// no notion of required parameters.
type ToolParamDefinition struct {
	ParamType   string `json:"param_type"`
	Description string `json:"description,omitempty"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	ToolName    string                         `json:"tool_name"`
	Description string                         `json:"description,omitempty"`
	Parameters  map[string]ToolParamDefinition `json:"parameters,omitempty"`
}

// ToolConfig carries tool selection settings.
type ToolConfig struct {
	ToolChoice string `json:"tool_choice,omitempty"`
}

// Metric is a usage figure reported alongside a response.
type Metric struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
}

// CompletionRequest is a raw text completion call.
type CompletionRequest struct {
	ModelID        string          `json:"model_id"`
	Content        Content         `json:"content"`
	SamplingParams SamplingParams  `json:"sampling_params"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// CompletionResponse is the backend answer to a CompletionRequest.
type CompletionResponse struct {
	Content    string     `json:"content"`
	StopReason StopReason `json:"stop_reason"`
	Metrics    []Metric   `json:"metrics,omitempty"`
}

// ChatCompletionRequest is a chat call over a full message history.
type ChatCompletionRequest struct {
	ModelID        string           `json:"model_id"`
	Messages       []Message        `json:"messages"`
	SamplingParams SamplingParams   `json:"sampling_params"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ToolConfig     *ToolConfig      `json:"tool_config,omitempty"`
}

// CompletionMessage is the assistant turn produced by a chat call.
type CompletionMessage struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	StopReason StopReason `json:"stop_reason"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ChatCompletionResponse is the backend answer to a ChatCompletionRequest.
type ChatCompletionResponse struct {
	CompletionMessage CompletionMessage `json:"completion_message"`
	Metrics           []Metric          `json:"metrics,omitempty"`
}

// Model is a backend model descriptor. It is returned to callers as is.
type Model struct {
	Identifier         string         `json:"identifier"`
	ProviderID         string         `json:"provider_id"`
	ProviderResourceID string         `json:"provider_resource_id,omitempty"`
	ModelType          string         `json:"model_type,omitempty"`
	Type               string         `json:"type,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}
