package translator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"lls-openai-shim/internal/stack"
)

// BuildGuidedChoiceFormat constrains output to exactly one of choices,
// expressed as a string schema anchored on a literal alternation. It
// returns nil when there is nothing to constrain.
func BuildGuidedChoiceFormat(choices []string) *stack.ResponseFormat {
	if len(choices) == 0 {
		return nil
	}

	quoted := make([]string, len(choices))
	for i, choice := range choices {
		quoted[i] = regexp.QuoteMeta(choice)
	}

	return &stack.ResponseFormat{
		Type: stack.ResponseFormatJSONSchema,
		JSONSchema: &jsonschema.Schema{
			Type:    "string",
			Pattern: "^(" + strings.Join(quoted, "|") + ")$",
		},
	}
}

// GuidedDecode is the outcome of decoding constrained output. Structured
// is false when the raw text was returned unchanged.
type GuidedDecode struct {
	Text       string
	Structured bool
}

// DecodeGuidedChoice extracts the chosen string from constrained output.
// A JSON string is unwrapped, a JSON array yields its first string
// element, and anything else comes back as the raw text. It never fails.
func DecodeGuidedChoice(raw string) GuidedDecode {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return GuidedDecode{Text: raw}
	}

	switch v := value.(type) {
	case string:
		return GuidedDecode{Text: v, Structured: true}
	case []any:
		if len(v) > 0 {
			if first, ok := v[0].(string); ok {
				return GuidedDecode{Text: first, Structured: true}
			}
		}
	}
	return GuidedDecode{Text: raw}
}
