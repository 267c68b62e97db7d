package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest marks caller input the shim refuses to translate.
var ErrInvalidRequest = errors.New("invalid request")

var (
	errEmptyModel        = fmt.Errorf("%w: model must be provided", ErrInvalidRequest)
	errEmptyMessages     = fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	errEmptyPrompt       = fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	errStreaming         = fmt.Errorf("%w: streaming responses are not supported", ErrInvalidRequest)
	errInvalidRole       = fmt.Errorf("%w: invalid role", ErrInvalidRequest)
	errInvalidContent    = fmt.Errorf("%w: invalid message content", ErrInvalidRequest)
	errInvalidSamples    = fmt.Errorf("%w: n must be at least 1", ErrInvalidRequest)
	errInvalidToolChoice = fmt.Errorf("%w: invalid tool_choice", ErrInvalidRequest)
)

// Roles accepted in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Object discriminators of the response envelopes.
const (
	ObjectTextCompletion = "text_completion"
	ObjectChatCompletion = "chat.completion"
	ObjectList           = "list"
)

// Finish reasons.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
)

// ToolTypeFunction is the only tool type the shim understands.
const ToolTypeFunction = "function"

var allowedRoles = map[string]struct{}{
	RoleSystem:    {},
	RoleUser:      {},
	RoleAssistant: {},
	RoleTool:      {},
}

// ExtraBody holds vendor extensions sent next to the standard fields.
type ExtraBody struct {
	GuidedChoice []string `json:"guided_choice,omitempty"`
}

// CompletionRequest models the legacy text completions request payload.
// A zero N means one sample.
type CompletionRequest struct {
	Model        string
	Prompts      []string
	N            int
	MaxTokens    *int
	Temperature  *float64
	TopP         *float64
	GuidedChoice []string
}

// UnmarshalJSON performs strict validation for completion requests.
// Unknown fields are ignored.
func (r *CompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model        string          `json:"model"`
		Prompt       json.RawMessage `json:"prompt"`
		N            *int            `json:"n"`
		Stream       bool            `json:"stream"`
		MaxTokens    *int            `json:"max_tokens"`
		Temperature  *float64        `json:"temperature"`
		TopP         *float64        `json:"top_p"`
		GuidedChoice []string        `json:"guided_choice"`
		ExtraBody    *ExtraBody      `json:"extra_body"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode completion request: %w", err)
	}
	if raw.Stream {
		return errStreaming
	}

	prompts, err := extractPrompts(raw.Prompt)
	if err != nil {
		return err
	}
	n, err := sampleCount(raw.N)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Prompts = prompts
	r.N = n
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.GuidedChoice = pickGuidedChoice(raw.GuidedChoice, raw.ExtraBody)

	return r.Validate()
}

// Validate checks the fields a translator relies on.
func (r CompletionRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errEmptyModel
	}
	if len(r.Prompts) == 0 {
		return errEmptyPrompt
	}
	if r.N < 0 {
		return errInvalidSamples
	}
	return nil
}

// SampleCount returns N, defaulting to one.
func (r CompletionRequest) SampleCount() int {
	return defaultSamples(r.N)
}

// ChatCompletionRequest models the chat/completions request payload.
type ChatCompletionRequest struct {
	Model        string
	Messages     []ChatMessage
	N            int
	MaxTokens    *int
	Temperature  *float64
	TopP         *float64
	ToolChoice   *ToolChoice
	Tools        []Tool
	GuidedChoice []string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model        string        `json:"model"`
		Messages     []ChatMessage `json:"messages"`
		N            *int          `json:"n"`
		Stream       bool          `json:"stream"`
		MaxTokens    *int          `json:"max_tokens"`
		Temperature  *float64      `json:"temperature"`
		TopP         *float64      `json:"top_p"`
		ToolChoice   *ToolChoice   `json:"tool_choice"`
		Tools        []Tool        `json:"tools"`
		GuidedChoice []string      `json:"guided_choice"`
		ExtraBody    *ExtraBody    `json:"extra_body"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}
	if raw.Stream {
		return errStreaming
	}

	n, err := sampleCount(raw.N)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.N = n
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.ToolChoice = raw.ToolChoice
	r.Tools = raw.Tools
	r.GuidedChoice = pickGuidedChoice(raw.GuidedChoice, raw.ExtraBody)

	return r.Validate()
}

// Validate checks the fields a translator relies on.
func (r ChatCompletionRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	if r.N < 0 {
		return errInvalidSamples
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("message[%d]: %w", i, err)
		}
	}
	return nil
}

// SampleCount returns N, defaulting to one.
func (r ChatCompletionRequest) SampleCount() int {
	return defaultSamples(r.N)
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

func (m ChatMessage) validate() error {
	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %q", errInvalidRole, m.Role)
	}
	for _, part := range m.Content.Parts {
		switch part.Type {
		case ContentPartText:
		case ContentPartImageURL:
			if part.ImageURL == nil || strings.TrimSpace(part.ImageURL.URL) == "" {
				return fmt.Errorf("%w: image_url part requires a url", errInvalidContent)
			}
		default:
			return fmt.Errorf("%w: segment type %q not supported", errInvalidContent, part.Type)
		}
	}
	return nil
}

// Content part types.
const (
	ContentPartText     = "text"
	ContentPartImageURL = "image_url"
)

// ContentPart is one element of structured message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// MessageContent is either a plain string or a list of parts. A nil Parts
// slice means string content.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds plain string content.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// MarshalJSON encodes the content in the form it was received.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON supports string, null and array-of-parts content formats.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = MessageContent{}
		return nil
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		*c = MessageContent{Text: text}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(trimmed, &parts); err == nil {
		if parts == nil {
			parts = []ContentPart{}
		}
		*c = MessageContent{Parts: parts}
		return nil
	}

	return fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the OpenAI function schema. Parameters is a JSON
// Schema object kept verbatim.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoice is either a mode ("auto", "none", "required") or a named
// function.
type ToolChoice struct {
	Mode         string
	FunctionName string
}

// MarshalJSON encodes the mode string or the named function object.
func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.FunctionName != "" {
		return json.Marshal(map[string]any{
			"type":     ToolTypeFunction,
			"function": map[string]string{"name": t.FunctionName},
		})
	}
	return json.Marshal(t.Mode)
}

// UnmarshalJSON accepts both tool_choice encodings.
func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		*t = ToolChoice{Mode: strings.TrimSpace(mode)}
		return nil
	}

	var named struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &named); err != nil || strings.TrimSpace(named.Function.Name) == "" {
		return errInvalidToolChoice
	}
	*t = ToolChoice{FunctionName: strings.TrimSpace(named.Function.Name)}
	return nil
}

// ToolCall is a function invocation returned by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the called function and its raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionResponse models the text completion response payload.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// CompletionChoice represents a single completion choice.
type CompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Logprobs     any    `json:"logprobs"`
}

// ChatCompletionResponse models the chat response payload.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
	Logprobs     any             `json:"logprobs"`
}

// ResponseMessage is the assistant message of a chat choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage mirrors the token usage block in OpenAI responses.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func extractPrompts(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, errEmptyPrompt
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []string{text}, nil
	}

	var prompts []string
	if err := json.Unmarshal(raw, &prompts); err == nil {
		if len(prompts) == 0 {
			return nil, errEmptyPrompt
		}
		return prompts, nil
	}

	return nil, fmt.Errorf("%w: prompt must be a string or an array of strings", ErrInvalidRequest)
}

func sampleCount(n *int) (int, error) {
	if n == nil {
		return 1, nil
	}
	if *n < 1 {
		return 0, errInvalidSamples
	}
	return *n, nil
}

func defaultSamples(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func pickGuidedChoice(topLevel []string, extra *ExtraBody) []string {
	if extra != nil && len(extra.GuidedChoice) > 0 {
		return extra.GuidedChoice
	}
	return topLevel
}
