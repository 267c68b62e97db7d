package translator

import "lls-openai-shim/internal/stack"

const (
	defaultTemperature = 1.0
	defaultTopP        = 1.0
)

// BuildSamplingParams selects greedy decoding when temperature is exactly
// zero and top-p sampling otherwise. A missing or non-positive max_tokens
// falls back to defaultMaxTokens; when that is zero too, the field is left
// for the backend to fill.
func BuildSamplingParams(temperature, topP *float64, maxTokens *int, defaultMaxTokens int) stack.SamplingParams {
	var params stack.SamplingParams

	if temperature != nil && *temperature == 0 {
		params.Strategy = stack.GreedyStrategy()
	} else {
		t, p := defaultTemperature, defaultTopP
		if temperature != nil {
			t = *temperature
		}
		if topP != nil {
			p = *topP
		}
		params.Strategy = stack.TopPStrategy(t, p)
	}

	switch {
	case maxTokens != nil && *maxTokens > 0:
		v := *maxTokens
		params.MaxTokens = &v
	case defaultMaxTokens > 0:
		v := defaultMaxTokens
		params.MaxTokens = &v
	}

	return params
}
