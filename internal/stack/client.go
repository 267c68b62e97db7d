package stack

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend indicates the configured backend kind is not supported.
	ErrUnknownBackend = errors.New("unknown backend kind")

	// ErrBackendUnavailable wraps transport and decoding failures talking
	// to the backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Inference is the backend generation surface.
type Inference interface {
	Completion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ModelLister returns the backend model catalogue.
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
}

// Client is the backend handle the translator is built around.
type Client interface {
	Inference
	ModelLister
	Name() string
}

// APIError is returned when the backend answers with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend error status %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports whether the backend rejected the request itself.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
