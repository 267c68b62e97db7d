package translator

import (
	"context"
	"time"

	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
)

const completionIDPrefix = "cmpl-"

// Completions translates the text completion endpoint.
type Completions struct {
	*core
}

// Create issues one backend completion per (sample, prompt) pair, samples
// outermost, and returns their choices indexed in that order. Any backend
// failure aborts the whole request.
func (c *Completions) Create(ctx context.Context, req openai.CompletionRequest) (*openai.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	prompts := req.Prompts
	sampling := BuildSamplingParams(req.Temperature, req.TopP, req.MaxTokens, c.defaultMaxTokens)
	format := BuildGuidedChoiceFormat(req.GuidedChoice)

	total := req.SampleCount() * len(prompts)
	choices := make([]openai.CompletionChoice, total)
	usages := make([]usageResult, total)
	started := time.Now()

	err := c.fanOut(ctx, total, func(ctx context.Context, pos int) error {
		prompt := prompts[pos%len(prompts)]

		resp, err := c.backend.Completion(ctx, stack.CompletionRequest{
			ModelID:        req.Model,
			Content:        stack.TextContent(prompt),
			SamplingParams: sampling,
			ResponseFormat: format,
		})
		if err != nil {
			return err
		}
		if resp == nil {
			return ErrEmptyBackendResponse
		}

		text := resp.Content
		if format != nil {
			text = DecodeGuidedChoice(resp.Content).Text
		}

		choices[pos] = openai.CompletionChoice{
			Text:         text,
			Index:        pos,
			FinishReason: CompletionFinishReason(resp.StopReason),
		}
		usages[pos] = c.callUsage(resp.Metrics, prompt, resp.Content)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("completion translated",
		"model", req.Model,
		"prompts", len(prompts),
		"samples", req.SampleCount(),
		"backend_calls", total,
		"latency_ms", time.Since(started).Milliseconds(),
	)

	return &openai.CompletionResponse{
		ID:      completionIDPrefix + c.newID(),
		Object:  openai.ObjectTextCompletion,
		Created: c.now().Unix(),
		Model:   req.Model,
		Choices: choices,
		Usage:   tallyUsage(usages),
	}, nil
}
