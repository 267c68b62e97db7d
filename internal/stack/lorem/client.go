// Package lorem is an offline backend that answers with lorem ipsum text.
// It needs no model server and is meant for development and tests.
package lorem

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	loremgen "github.com/bozaro/golorem"
	"github.com/google/uuid"

	"lls-openai-shim/internal/stack"
	"lls-openai-shim/internal/usage"
)

const (
	// Name is the backend identifier.
	Name = "lorem"

	defaultWordBudget = 64
	toolChoiceAuto    = "auto"
	toolChoiceNone    = "none"
	toolChoiceRequire = "required"
)

var models = []stack.Model{
	{Identifier: "lorem-fast", ProviderID: Name, ModelType: "llm"},
	{Identifier: "lorem-slow", ProviderID: Name, ModelType: "llm"},
}

// Client implements stack.Client with generated text.
type Client struct {
	mu        sync.Mutex
	generator *loremgen.Lorem
	newID     func() string
}

// New creates a lorem backend.
func New() *Client {
	return &Client{
		generator: loremgen.New(),
		newID:     uuid.NewString,
	}
}

func (c *Client) Name() string {
	return Name
}

// Completion returns generated prose, or the first allowed choice when the
// request carries a guided format.
func (c *Client) Completion(ctx context.Context, req stack.CompletionRequest) (*stack.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prompt := req.Content.String()
	if choice, ok := firstChoice(req.ResponseFormat); ok {
		return &stack.CompletionResponse{
			Content:    choice,
			StopReason: stack.StopReasonEndOfTurn,
			Metrics:    metrics(prompt, choice),
		}, nil
	}

	text, reason := c.generate(req.SamplingParams.MaxTokens)
	return &stack.CompletionResponse{
		Content:    text,
		StopReason: reason,
		Metrics:    metrics(prompt, text),
	}, nil
}

// ChatCompletion replies to the last message. When tools are offered and
// the tool choice forces a call, it calls a tool instead.
func (c *Client) ChatCompletion(ctx context.Context, req stack.ChatCompletionRequest) (*stack.ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prompt strings.Builder
	for _, m := range req.Messages {
		prompt.WriteString(m.Content.String())
		prompt.WriteString(" ")
	}

	if tool, ok := forcedTool(req.Tools, req.ToolConfig); ok {
		call := c.toolCall(tool)
		return &stack.ChatCompletionResponse{
			CompletionMessage: stack.CompletionMessage{
				Role:       stack.RoleAssistant,
				Content:    stack.TextContent(""),
				StopReason: stack.StopReasonEndOfMessage,
				ToolCalls:  []stack.ToolCall{call},
			},
			Metrics: metrics(prompt.String(), call.ArgumentsJSON),
		}, nil
	}

	text, reason := c.generate(req.SamplingParams.MaxTokens)
	if choice, ok := firstChoice(req.ResponseFormat); ok {
		text, reason = choice, stack.StopReasonEndOfTurn
	}

	return &stack.ChatCompletionResponse{
		CompletionMessage: stack.CompletionMessage{
			Role:       stack.RoleAssistant,
			Content:    stack.TextContent(text),
			StopReason: reason,
		},
		Metrics: metrics(prompt.String(), text),
	}, nil
}

func (c *Client) ListModels(ctx context.Context) ([]stack.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]stack.Model, len(models))
	copy(out, models)
	return out, nil
}

// generate produces a paragraph and cuts it to maxTokens words, treating
// one word as one token.
func (c *Client) generate(maxTokens *int) (string, stack.StopReason) {
	budget := defaultWordBudget
	if maxTokens != nil && *maxTokens > 0 {
		budget = *maxTokens
	}

	c.mu.Lock()
	paragraph := c.generator.Paragraph(2, 4)
	c.mu.Unlock()

	words := strings.Fields(paragraph)
	if len(words) > budget {
		return strings.Join(words[:budget], " "), stack.StopReasonOutOfTokens
	}
	return strings.Join(words, " "), stack.StopReasonEndOfTurn
}

func (c *Client) toolCall(tool stack.ToolDefinition) stack.ToolCall {
	args := make(map[string]any, len(tool.Parameters))

	c.mu.Lock()
	for name, param := range tool.Parameters {
		switch param.ParamType {
		case "integer", "number":
			args[name] = len(c.generator.Word(3, 9))
		case "boolean":
			args[name] = true
		default:
			args[name] = c.generator.Word(3, 9)
		}
	}
	c.mu.Unlock()

	data, _ := json.Marshal(args)
	return stack.ToolCall{
		CallID:        "call_" + c.newID(),
		ToolName:      tool.ToolName,
		Arguments:     data,
		ArgumentsJSON: string(data),
	}
}

// forcedTool picks the tool to call: the named tool, or the first one when
// a call is required.
func forcedTool(tools []stack.ToolDefinition, cfg *stack.ToolConfig) (stack.ToolDefinition, bool) {
	if len(tools) == 0 || cfg == nil {
		return stack.ToolDefinition{}, false
	}

	switch cfg.ToolChoice {
	case "", toolChoiceAuto, toolChoiceNone:
		return stack.ToolDefinition{}, false
	case toolChoiceRequire:
		return tools[0], true
	}
	for _, tool := range tools {
		if tool.ToolName == cfg.ToolChoice {
			return tool, true
		}
	}
	return stack.ToolDefinition{}, false
}

// firstChoice reads the first alternative of a guided choice pattern of
// the form ^(a|b|c)$ and returns it JSON encoded.
func firstChoice(format *stack.ResponseFormat) (string, bool) {
	if format == nil || format.JSONSchema == nil {
		return "", false
	}

	pattern := format.JSONSchema.Pattern
	if !strings.HasPrefix(pattern, "^(") || !strings.HasSuffix(pattern, ")$") {
		return "", false
	}
	body := pattern[2 : len(pattern)-2]

	var choice strings.Builder
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch == '\\' && i+1 < len(body) {
			i++
			choice.WriteByte(body[i])
			continue
		}
		if ch == '|' {
			break
		}
		choice.WriteByte(ch)
	}

	data, err := json.Marshal(choice.String())
	if err != nil {
		return "", false
	}
	return string(data), true
}

func metrics(prompt, completion string) []stack.Metric {
	p := float64(len(strings.Fields(prompt)))
	comp := float64(len(strings.Fields(completion)))
	return []stack.Metric{
		{Metric: usage.MetricPromptTokens, Value: p},
		{Metric: usage.MetricCompletionTokens, Value: comp},
		{Metric: usage.MetricTotalTokens, Value: p + comp},
	}
}
