package translator

import (
	"context"
	"fmt"
	"sync"

	"lls-openai-shim/internal/stack"
)

// fakeBackend records every call and answers from the configured funcs.
type fakeBackend struct {
	mu           sync.Mutex
	completions  []stack.CompletionRequest
	chats        []stack.ChatCompletionRequest
	completionFn func(call int, req stack.CompletionRequest) (*stack.CompletionResponse, error)
	chatFn       func(call int, req stack.ChatCompletionRequest) (*stack.ChatCompletionResponse, error)
	models       []stack.Model
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Completion(_ context.Context, req stack.CompletionRequest) (*stack.CompletionResponse, error) {
	f.mu.Lock()
	call := len(f.completions)
	f.completions = append(f.completions, req)
	f.mu.Unlock()

	if f.completionFn != nil {
		return f.completionFn(call, req)
	}
	return &stack.CompletionResponse{
		Content:    fmt.Sprintf("echo:%s", req.Content.String()),
		StopReason: stack.StopReasonEndOfTurn,
	}, nil
}

func (f *fakeBackend) ChatCompletion(_ context.Context, req stack.ChatCompletionRequest) (*stack.ChatCompletionResponse, error) {
	f.mu.Lock()
	call := len(f.chats)
	f.chats = append(f.chats, req)
	f.mu.Unlock()

	if f.chatFn != nil {
		return f.chatFn(call, req)
	}
	return &stack.ChatCompletionResponse{
		CompletionMessage: stack.CompletionMessage{
			Role:       stack.RoleAssistant,
			Content:    stack.TextContent("mock response"),
			StopReason: stack.StopReasonEndOfTurn,
		},
	}, nil
}

func (f *fakeBackend) ListModels(context.Context) ([]stack.Model, error) {
	return f.models, nil
}

func (f *fakeBackend) completionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completions)
}

func (f *fakeBackend) chatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
