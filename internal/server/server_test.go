package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lls-openai-shim/internal/config"
	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
	"lls-openai-shim/internal/stack/lorem"
	"lls-openai-shim/internal/translator"
)

// failingBackend answers every call with err.
type failingBackend struct {
	err error
}

func (f failingBackend) Name() string { return "failing" }

func (f failingBackend) Completion(context.Context, stack.CompletionRequest) (*stack.CompletionResponse, error) {
	return nil, f.err
}

func (f failingBackend) ChatCompletion(context.Context, stack.ChatCompletionRequest) (*stack.ChatCompletionResponse, error) {
	return nil, f.err
}

func (f failingBackend) ListModels(context.Context) ([]stack.Model, error) {
	return nil, f.err
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Backend.Kind = config.BackendLorem
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, backend stack.Client) *httptest.Server {
	t.Helper()

	adapter, err := translator.New(backend)
	require.NoError(t, err)

	srv, err := New(cfg, adapter, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNew_RequiresAdapter(t *testing.T) {
	_, err := New(testConfig(), nil, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig(), lorem.New())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, resp))
}

func TestCompletions(t *testing.T) {
	ts := newTestServer(t, testConfig(), lorem.New())

	resp := post(t, ts.URL+"/v1/completions", `{"model":"lorem-fast","prompt":["a","b"],"n":2,"max_tokens":4}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[openai.CompletionResponse](t, resp)
	assert.Equal(t, openai.ObjectTextCompletion, body.Object)
	assert.Equal(t, "lorem-fast", body.Model)
	require.Len(t, body.Choices, 4)
	for i, choice := range body.Choices {
		assert.Equal(t, i, choice.Index)
		assert.LessOrEqual(t, len(strings.Fields(choice.Text)), 4)
	}
	require.NotNil(t, body.Usage)
}

func TestCompletions_GuidedChoice(t *testing.T) {
	ts := newTestServer(t, testConfig(), lorem.New())

	resp := post(t, ts.URL+"/v1/completions", `{"model":"lorem-fast","prompt":"mood?","extra_body":{"guided_choice":["joy","sadness"]}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[openai.CompletionResponse](t, resp)
	require.Len(t, body.Choices, 1)
	assert.Equal(t, "joy", body.Choices[0].Text)
}

func TestChatCompletions_ToolCall(t *testing.T) {
	ts := newTestServer(t, testConfig(), lorem.New())

	payload := `{
		"model": "lorem-fast",
		"messages": [{"role": "user", "content": "weather?"}],
		"tools": [{"type": "function", "function": {"name": "get_weather", "parameters": {"type": "object", "properties": {"city": {"type": "string"}}}}}],
		"tool_choice": "required"
	}`
	resp := post(t, ts.URL+"/v1/chat/completions", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[openai.ChatCompletionResponse](t, resp)
	assert.Equal(t, openai.ObjectChatCompletion, body.Object)
	require.Len(t, body.Choices, 1)
	choice := body.Choices[0]
	assert.Equal(t, openai.FinishReasonToolCalls, choice.FinishReason)
	assert.Equal(t, openai.RoleAssistant, choice.Message.Role)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", choice.Message.ToolCalls[0].Function.Name)
	assert.True(t, json.Valid([]byte(choice.Message.ToolCalls[0].Function.Arguments)))
}

func TestModels(t *testing.T) {
	ts := newTestServer(t, testConfig(), lorem.New())

	resp, err := http.Get(ts.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[modelList](t, resp)
	assert.Equal(t, "list", body.Object)
	require.NotEmpty(t, body.Data)
	assert.Equal(t, "lorem-fast", body.Data[0].Identifier)
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t, testConfig(), lorem.New())

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"empty body", "/v1/completions", "", http.StatusBadRequest},
		{"malformed json", "/v1/completions", `{"model":`, http.StatusBadRequest},
		{"trailing data", "/v1/completions", `{"model":"m","prompt":"x"} {}`, http.StatusBadRequest},
		{"missing model", "/v1/completions", `{"prompt":"x"}`, http.StatusBadRequest},
		{"streaming", "/v1/chat/completions", `{"model":"m","messages":[{"role":"user","content":"x"}],"stream":true}`, http.StatusBadRequest},
		{"bad role", "/v1/chat/completions", `{"model":"m","messages":[{"role":"robot","content":"x"}]}`, http.StatusBadRequest},
		{"unknown route", "/v1/embeddings", `{}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeBody[errorBody](t, resp)
			assert.NotEmpty(t, body.Error.Message)
			assert.NotEmpty(t, body.Error.Type)
		})
	}
}

func TestBackendErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantType string
	}{
		{"backend client error", &stack.APIError{StatusCode: http.StatusNotFound, Message: "model not found"}, http.StatusNotFound, errTypeInvalidRequest},
		{"backend server error", &stack.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}, http.StatusBadGateway, errTypeUpstream},
		{"wrapped backend error", fmt.Errorf("chat completion request: %w", &stack.APIError{StatusCode: http.StatusBadRequest}), http.StatusBadRequest, errTypeInvalidRequest},
		{"unreachable", fmt.Errorf("%w: dial tcp", stack.ErrBackendUnavailable), http.StatusBadGateway, errTypeUpstream},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, errTypeUpstream},
		{"unknown", errors.New("something odd"), http.StatusInternalServerError, errTypeServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, testConfig(), failingBackend{err: tt.err})

			resp := post(t, ts.URL+"/v1/chat/completions", `{"model":"m","messages":[{"role":"user","content":"x"}]}`)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeBody[errorBody](t, resp)
			assert.Equal(t, tt.wantType, body.Error.Type)
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKeys = []string{"k1", "k2"}
	ts := newTestServer(t, cfg, lorem.New())

	payload := `{"model":"lorem-fast","prompt":"x"}`

	resp := post(t, ts.URL+"/v1/completions", payload)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, errTypeAuthentication, body.Error.Type)

	resp = post(t, ts.URL+"/v1/completions", payload, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, ts.URL+"/v1/completions", payload, "Authorization", "Bearer k2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	_, _ = io.Copy(io.Discard, health.Body)
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
