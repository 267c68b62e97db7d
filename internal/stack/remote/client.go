package remote

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"lls-openai-shim/internal/config"
	"lls-openai-shim/internal/stack"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "lls-openai-shim/0.1"
	maxErrorBody    = 64 * 1024
)

// Client implements stack.Client against a Llama Stack HTTP server.
type Client struct {
	name          string
	apiKey        string
	baseURL       string
	headers       map[string]string
	client        *http.Client
	completionURL string
	chatURL       string
	modelsURL     string
}

// New creates a new HTTP backend client.
func New(name string, cfg config.BackendConfig, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		name:          name,
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		headers:       cfg.Headers,
		client:        client,
		completionURL: baseURL + "/v1/inference/completion",
		chatURL:       baseURL + "/v1/inference/chat-completion",
		modelsURL:     baseURL + "/v1/models",
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

type completionPayload struct {
	stack.CompletionRequest
	Stream bool `json:"stream"`
}

type chatPayload struct {
	stack.ChatCompletionRequest
	Stream bool `json:"stream"`
}

type modelsResponse struct {
	Data []stack.Model `json:"data"`
}

func (c *Client) Completion(ctx context.Context, req stack.CompletionRequest) (*stack.CompletionResponse, error) {
	var resp stack.CompletionResponse
	if err := c.do(ctx, http.MethodPost, c.completionURL, completionPayload{CompletionRequest: req}, &resp); err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	return &resp, nil
}

func (c *Client) ChatCompletion(ctx context.Context, req stack.ChatCompletionRequest) (*stack.ChatCompletionResponse, error) {
	var resp stack.ChatCompletionResponse
	if err := c.do(ctx, http.MethodPost, c.chatURL, chatPayload{ChatCompletionRequest: req}, &resp); err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	return &resp, nil
}

func (c *Client) ListModels(ctx context.Context) ([]stack.Model, error) {
	var resp modelsResponse
	if err := c.do(ctx, http.MethodGet, c.modelsURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload, target any) error {
	httpReq, err := c.newRequest(ctx, method, url, payload)
	if err != nil {
		return err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: send request: %w", stack.ErrBackendUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := decompressReader(httpResp)
	if err != nil {
		return err
	}

	if httpResp.StatusCode >= 400 {
		return parseAPIError(httpResp.StatusCode, body)
	}

	return decodeJSON(body, target)
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// decompressReader unwraps gzip and brotli bodies. Setting Accept-Encoding
// by hand disables the transport's transparent gzip handling.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: create gzip reader: %w", stack.ErrBackendUnavailable, err)
		}
		return gzipReader, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

type apiErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(status int, body io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return &stack.APIError{StatusCode: status, Message: fmt.Sprintf("failed to read body: %v", err)}
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil {
		if apiErr.Error != nil && apiErr.Error.Message != "" {
			return &stack.APIError{StatusCode: status, Message: apiErr.Error.Message}
		}
		if len(apiErr.Detail) > 0 {
			var detail string
			if err := json.Unmarshal(apiErr.Detail, &detail); err == nil {
				return &stack.APIError{StatusCode: status, Message: detail}
			}
			return &stack.APIError{StatusCode: status, Message: string(apiErr.Detail)}
		}
	}

	return &stack.APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: decode response: %w", stack.ErrBackendUnavailable, err)
	}
	return nil
}
