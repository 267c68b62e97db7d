package translator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
	"lls-openai-shim/internal/usage"
)

func newTestAdapter(t *testing.T, backend *fakeBackend, opts ...Option) *Adapter {
	t.Helper()
	adapter, err := New(backend, opts...)
	require.NoError(t, err)
	return adapter
}

func TestCompletions_FanOutOrdering(t *testing.T) {
	backend := &fakeBackend{}
	adapter := newTestAdapter(t, backend)

	resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{
		Model:   "foo",
		Prompts: []string{"a", "b"},
		N:       3,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, backend.completionCalls())
	require.Len(t, resp.Choices, 6)
	for i, choice := range resp.Choices {
		assert.Equal(t, i, choice.Index)
		want := "echo:a"
		if i%2 == 1 {
			want = "echo:b"
		}
		assert.Equal(t, want, choice.Text, "choice %d", i)
		assert.Equal(t, openai.FinishReasonStop, choice.FinishReason)
	}

	assert.Equal(t, openai.ObjectTextCompletion, resp.Object)
	assert.Equal(t, "foo", resp.Model)
	assert.Regexp(t, `^cmpl-`, resp.ID)
	assert.Nil(t, resp.Usage)
}

func TestCompletions_BackendRequest(t *testing.T) {
	backend := &fakeBackend{}
	adapter := newTestAdapter(t, backend, WithDefaultMaxTokens(256))

	_, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{
		Model:       "foo",
		Prompts:     []string{"hello"},
		Temperature: floatPtr(0.7),
	})
	require.NoError(t, err)

	require.Len(t, backend.completions, 1)
	got := backend.completions[0]
	assert.Equal(t, "foo", got.ModelID)
	assert.Equal(t, "hello", got.Content.String())
	assert.Nil(t, got.ResponseFormat)
	assert.Equal(t, stack.StrategyTopP, got.SamplingParams.Strategy.Type)
	require.NotNil(t, got.SamplingParams.Strategy.Temperature)
	assert.InDelta(t, 0.7, *got.SamplingParams.Strategy.Temperature, 1e-9)
	require.NotNil(t, got.SamplingParams.MaxTokens)
	assert.Equal(t, 256, *got.SamplingParams.MaxTokens)
}

func TestCompletions_GuidedChoice(t *testing.T) {
	replies := []string{`["joy"]`, `"sadness"`, `not json`}
	backend := &fakeBackend{
		completionFn: func(call int, req stack.CompletionRequest) (*stack.CompletionResponse, error) {
			return &stack.CompletionResponse{Content: replies[call], StopReason: stack.StopReasonEndOfTurn}, nil
		},
	}
	adapter := newTestAdapter(t, backend)

	resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{
		Model:        "foo",
		Prompts:      []string{"how do you feel?"},
		N:            3,
		GuidedChoice: []string{"joy", "sadness"},
	})
	require.NoError(t, err)

	require.NotNil(t, backend.completions[0].ResponseFormat)
	assert.Equal(t, stack.ResponseFormatJSONSchema, backend.completions[0].ResponseFormat.Type)

	require.Len(t, resp.Choices, 3)
	assert.Equal(t, "joy", resp.Choices[0].Text)
	assert.Equal(t, "sadness", resp.Choices[1].Text)
	assert.Equal(t, "not json", resp.Choices[2].Text)
}

func TestCompletions_UniqueIDs(t *testing.T) {
	backend := &fakeBackend{}
	adapter := newTestAdapter(t, backend)

	req := openai.CompletionRequest{Model: "foo", Prompts: []string{"x"}}
	first, err := adapter.Completions.Create(context.Background(), req)
	require.NoError(t, err)
	second, err := adapter.Completions.Create(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestCompletions_ClockAndIDOverrides(t *testing.T) {
	backend := &fakeBackend{}
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, backend,
		WithClock(func() time.Time { return stamp }),
		WithIDGenerator(func() string { return "fixed" }),
	)

	resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{Model: "foo", Prompts: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "cmpl-fixed", resp.ID)
	assert.Equal(t, stamp.Unix(), resp.Created)
}

func TestCompletions_AllOrNothing(t *testing.T) {
	boom := &stack.APIError{StatusCode: 503, Message: "overloaded"}
	backend := &fakeBackend{
		completionFn: func(call int, req stack.CompletionRequest) (*stack.CompletionResponse, error) {
			if call == 2 {
				return nil, boom
			}
			return &stack.CompletionResponse{Content: "ok", StopReason: stack.StopReasonEndOfTurn}, nil
		},
	}
	adapter := newTestAdapter(t, backend)

	resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{
		Model:   "foo",
		Prompts: []string{"a", "b"},
		N:       2,
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Same(t, boom, err)
	assert.Equal(t, 3, backend.completionCalls(), "later calls are not issued")
}

func TestCompletions_EmptyBackendResponse(t *testing.T) {
	backend := &fakeBackend{
		completionFn: func(int, stack.CompletionRequest) (*stack.CompletionResponse, error) {
			return nil, nil
		},
	}
	adapter := newTestAdapter(t, backend)

	_, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{Model: "foo", Prompts: []string{"x"}})
	assert.ErrorIs(t, err, ErrEmptyBackendResponse)
}

func TestCompletions_InvalidRequest(t *testing.T) {
	backend := &fakeBackend{}
	adapter := newTestAdapter(t, backend)

	_, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{Model: "foo"})
	assert.ErrorIs(t, err, openai.ErrInvalidRequest)
	assert.Zero(t, backend.completionCalls())
}

func TestCompletions_ConcurrentOrdering(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	backend := &fakeBackend{
		completionFn: func(call int, req stack.CompletionRequest) (*stack.CompletionResponse, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			// Earlier calls finish later so completion order differs from
			// position order.
			time.Sleep(time.Duration(8-call) * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return &stack.CompletionResponse{Content: "echo:" + req.Content.String(), StopReason: stack.StopReasonOutOfTokens}, nil
		},
	}
	adapter := newTestAdapter(t, backend, WithMaxConcurrency(3))

	resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{
		Model:   "foo",
		Prompts: []string{"p0", "p1", "p2", "p3"},
		N:       2,
	})
	require.NoError(t, err)

	require.Len(t, resp.Choices, 8)
	for i, choice := range resp.Choices {
		assert.Equal(t, i, choice.Index)
		assert.Equal(t, fmt.Sprintf("echo:p%d", i%4), choice.Text)
		assert.Equal(t, openai.FinishReasonLength, choice.FinishReason)
	}
	assert.LessOrEqual(t, peak, 3)
}

func TestCompletions_ConcurrentFailure(t *testing.T) {
	boom := errors.New("connection reset")
	backend := &fakeBackend{
		completionFn: func(call int, req stack.CompletionRequest) (*stack.CompletionResponse, error) {
			if req.Content.String() == "bad" {
				return nil, boom
			}
			return &stack.CompletionResponse{Content: "ok"}, nil
		},
	}
	adapter := newTestAdapter(t, backend, WithMaxConcurrency(4))

	resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{
		Model:   "foo",
		Prompts: []string{"good", "bad", "good"},
	})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, boom)
}

func TestCompletions_Usage(t *testing.T) {
	t.Run("from backend metrics", func(t *testing.T) {
		backend := &fakeBackend{
			completionFn: func(int, stack.CompletionRequest) (*stack.CompletionResponse, error) {
				return &stack.CompletionResponse{
					Content: "ok",
					Metrics: []stack.Metric{
						{Metric: usage.MetricPromptTokens, Value: 10},
						{Metric: usage.MetricCompletionTokens, Value: 2},
						{Metric: usage.MetricTotalTokens, Value: 12},
					},
				}, nil
			},
		}
		adapter := newTestAdapter(t, backend)

		resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{Model: "foo", Prompts: []string{"x"}, N: 2})
		require.NoError(t, err)
		assert.Equal(t, &openai.Usage{PromptTokens: 20, CompletionTokens: 4, TotalTokens: 24}, resp.Usage)
	})

	t.Run("estimated by counter", func(t *testing.T) {
		backend := &fakeBackend{}
		adapter := newTestAdapter(t, backend, WithUsageCounter(usage.WordCounter{}))

		resp, err := adapter.Completions.Create(context.Background(), openai.CompletionRequest{Model: "foo", Prompts: []string{"one two three"}})
		require.NoError(t, err)
		// "echo:one two three" is three words.
		assert.Equal(t, &openai.Usage{PromptTokens: 3, CompletionTokens: 3, TotalTokens: 6}, resp.Usage)
	})
}
