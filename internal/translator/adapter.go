// Package translator adapts OpenAI completion and chat-completion calls to
// a Llama Stack backend: requests are reshaped, fanned out into one backend
// call per sample (and per prompt for completions), and the results are
// folded back into OpenAI response envelopes.
package translator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
	"lls-openai-shim/internal/usage"
)

var (
	// ErrMissingBackend is returned by New when no backend client is given.
	ErrMissingBackend = errors.New("a backend client must be provided")

	// ErrEmptyBackendResponse indicates the backend returned neither a
	// result nor an error.
	ErrEmptyBackendResponse = errors.New("backend returned an empty response")
)

// Adapter exposes the OpenAI client surface on top of a backend client.
type Adapter struct {
	Completions *Completions
	Chat        *Chat
	Models      *Models

	backend stack.Client
}

// Chat groups the chat endpoints.
type Chat struct {
	Completions *ChatCompletions
}

// Option customises an Adapter.
type Option func(*core)

// WithDefaultMaxTokens sets max_tokens for requests that omit it.
func WithDefaultMaxTokens(n int) Option {
	return func(c *core) {
		if n > 0 {
			c.defaultMaxTokens = n
		}
	}
}

// WithMaxConcurrency bounds how many backend calls of one aggregate run at
// once. One keeps calls sequential.
func WithMaxConcurrency(n int) Option {
	return func(c *core) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithUsageCounter estimates usage when the backend reports none.
func WithUsageCounter(counter usage.Counter) Option {
	return func(c *core) {
		c.counter = counter
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *core) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides the response id source. Ids must be unique.
func WithIDGenerator(newID func() string) Option {
	return func(c *core) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// New builds an Adapter around backend.
func New(backend stack.Client, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, ErrMissingBackend
	}

	c := &core{
		backend:        backend,
		maxConcurrency: 1,
		logger:         slog.Default(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	return &Adapter{
		Completions: &Completions{core: c},
		Chat:        &Chat{Completions: &ChatCompletions{core: c}},
		Models:      &Models{backend: backend},
		backend:     backend,
	}, nil
}

// Backend returns the wrapped backend client.
func (a *Adapter) Backend() stack.Client {
	return a.backend
}

// core holds what the translators share. It is read-only after New.
type core struct {
	backend          stack.Client
	defaultMaxTokens int
	maxConcurrency   int
	counter          usage.Counter
	logger           *slog.Logger
	now              func() time.Time
	newID            func() string
}

// fanOut runs call for positions 0..total-1. Callers write results into
// slots addressed by position, so ordering never depends on completion
// order. The first error cancels the rest and is returned as is.
func (c *core) fanOut(ctx context.Context, total int, call func(ctx context.Context, pos int) error) error {
	if c.maxConcurrency <= 1 || total <= 1 {
		for pos := 0; pos < total; pos++ {
			if err := call(ctx, pos); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for pos := 0; pos < total; pos++ {
		g.Go(func() error {
			return call(gctx, pos)
		})
	}
	return g.Wait()
}

// callUsage resolves the usage of one backend call.
func (c *core) callUsage(metrics []stack.Metric, prompt, completion string) usageResult {
	if reported, ok := usage.FromMetrics(metrics); ok {
		return usageResult{usage: reported, ok: true}
	}
	if c.counter != nil {
		return usageResult{usage: usage.Estimate(c.counter, prompt, completion), ok: true}
	}
	return usageResult{}
}

type usageResult struct {
	usage openai.Usage
	ok    bool
}

func tallyUsage(results []usageResult) *openai.Usage {
	var tally usage.Tally
	for _, r := range results {
		tally.Add(r.usage, r.ok)
	}
	return tally.Result()
}
