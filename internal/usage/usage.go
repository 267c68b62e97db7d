// Package usage derives OpenAI-style token usage for translated responses,
// either from metrics the backend reports or from a local tokenizer.
package usage

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
)

// Backend metric names.
const (
	MetricPromptTokens     = "prompt_tokens"
	MetricCompletionTokens = "completion_tokens"
	MetricTotalTokens      = "total_tokens"
)

// Counter turns text into a token count.
type Counter interface {
	Count(text string) int
}

// WordCounter approximates tokens by whitespace-separated words.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// TiktokenCounter counts with a BPE encoding, loaded on first use. If the
// encoding cannot be loaded it degrades to WordCounter.
type TiktokenCounter struct {
	encoding string
	load     func(string) (*tiktoken.Tiktoken, error)
	logger   *slog.Logger

	once     sync.Once
	tke      *tiktoken.Tiktoken
	fallback WordCounter
}

// NewTiktokenCounter returns a counter for the named encoding.
func NewTiktokenCounter(encoding string, logger *slog.Logger) *TiktokenCounter {
	return newTiktokenCounter(encoding, tiktoken.GetEncoding, logger)
}

func newTiktokenCounter(encoding string, load func(string) (*tiktoken.Tiktoken, error), logger *slog.Logger) *TiktokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TiktokenCounter{
		encoding: encoding,
		load:     load,
		logger:   logger,
	}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		tke, err := c.load(c.encoding)
		if err != nil {
			c.logger.Warn("tokenizer unavailable, falling back to word count", "encoding", c.encoding, "error", err)
			return
		}
		c.tke = tke
	})

	if c.tke == nil {
		return c.fallback.Count(text)
	}
	return len(c.tke.Encode(text, nil, nil))
}

// FromMetrics reads usage reported by the backend. The second return is
// false when the backend sent neither prompt nor completion counts.
func FromMetrics(metrics []stack.Metric) (openai.Usage, bool) {
	var u openai.Usage
	var havePrompt, haveComp bool
	total := -1

	for _, m := range metrics {
		switch m.Metric {
		case MetricPromptTokens:
			u.PromptTokens = int(m.Value)
			havePrompt = true
		case MetricCompletionTokens:
			u.CompletionTokens = int(m.Value)
			haveComp = true
		case MetricTotalTokens:
			total = int(m.Value)
		}
	}

	if !havePrompt && !haveComp {
		return openai.Usage{}, false
	}
	if total < 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	u.TotalTokens = total
	return u, true
}

// Estimate counts prompt and completion texts with c.
func Estimate(c Counter, prompt, completion string) openai.Usage {
	p := c.Count(prompt)
	comp := c.Count(completion)
	return openai.Usage{
		PromptTokens:     p,
		CompletionTokens: comp,
		TotalTokens:      p + comp,
	}
}

// Tally sums per-call usage. Usage is reported only when every call
// contributed.
type Tally struct {
	sum     openai.Usage
	missing bool
	calls   int
}

// Add records one call's usage.
func (t *Tally) Add(u openai.Usage, ok bool) {
	t.calls++
	if !ok {
		t.missing = true
		return
	}
	t.sum.PromptTokens += u.PromptTokens
	t.sum.CompletionTokens += u.CompletionTokens
	t.sum.TotalTokens += u.TotalTokens
}

// Result returns the aggregate, or nil when any call lacked usage.
func (t *Tally) Result() *openai.Usage {
	if t.missing || t.calls == 0 {
		return nil
	}
	out := t.sum
	return &out
}
