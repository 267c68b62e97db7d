package translator

import (
	"context"
	"strings"
	"time"

	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
)

const chatIDPrefix = "chatcmpl-"

// ChatCompletions translates the chat completion endpoint.
type ChatCompletions struct {
	*core
}

// Create issues one backend chat completion per sample, each over the full
// message history. Choice i holds sample i.
func (c *ChatCompletions) Create(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tools, err := BuildToolDefinitions(req.Tools)
	if err != nil {
		return nil, err
	}

	backendReq := stack.ChatCompletionRequest{
		ModelID:        req.Model,
		Messages:       NormalizeMessages(req.Messages),
		SamplingParams: BuildSamplingParams(req.Temperature, req.TopP, req.MaxTokens, c.defaultMaxTokens),
		ResponseFormat: BuildGuidedChoiceFormat(req.GuidedChoice),
		Tools:          tools,
		ToolConfig:     BuildToolConfig(req.ToolChoice),
	}

	n := req.SampleCount()
	choices := make([]openai.ChatChoice, n)
	usages := make([]usageResult, n)
	promptText := messagesText(backendReq.Messages)
	started := time.Now()

	err = c.fanOut(ctx, n, func(ctx context.Context, sample int) error {
		resp, err := c.backend.ChatCompletion(ctx, backendReq)
		if err != nil {
			return err
		}
		if resp == nil {
			return ErrEmptyBackendResponse
		}

		msg := resp.CompletionMessage
		toolCalls := DecodeToolCalls(msg)
		content := msg.Content.String()
		if backendReq.ResponseFormat != nil && len(toolCalls) == 0 {
			content = DecodeGuidedChoice(content).Text
		}

		role := msg.Role
		if role == "" {
			role = openai.RoleAssistant
		}

		choices[sample] = openai.ChatChoice{
			Index: sample,
			Message: openai.ResponseMessage{
				Role:      role,
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: ChatFinishReason(msg.StopReason),
		}
		usages[sample] = c.callUsage(resp.Metrics, promptText, msg.Content.String())
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("chat completion translated",
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(tools),
		"backend_calls", n,
		"latency_ms", time.Since(started).Milliseconds(),
	)

	return &openai.ChatCompletionResponse{
		ID:      chatIDPrefix + c.newID(),
		Object:  openai.ObjectChatCompletion,
		Created: c.now().Unix(),
		Model:   req.Model,
		Choices: choices,
		Usage:   tallyUsage(usages),
	}, nil
}

func messagesText(messages []stack.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Content.String())
	}
	return sb.String()
}
