package translator

import (
	"context"

	"lls-openai-shim/internal/stack"
)

// Models exposes the backend model catalogue.
type Models struct {
	backend stack.Client
}

// List returns the backend listing unchanged.
// TODO: convert to OpenAI model records once their mapping to backend
// model types is settled.
func (m *Models) List(ctx context.Context) ([]stack.Model, error) {
	return m.backend.ListModels(ctx)
}
