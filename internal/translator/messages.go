package translator

import (
	"encoding/json"
	"strings"

	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
)

// NormalizeMessages copies caller messages into backend messages. The
// tool result correlation id moves from tool_call_id to call_id; the two
// never coexist on a backend message.
func NormalizeMessages(messages []openai.ChatMessage) []stack.Message {
	out := make([]stack.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, stack.Message{
			Role:      m.Role,
			Content:   convertContent(m.Content),
			CallID:    m.ToolCallID,
			ToolCalls: convertToolCalls(m.ToolCalls),
		})
	}
	return out
}

func convertContent(content openai.MessageContent) stack.Content {
	if content.Parts == nil {
		return stack.TextContent(content.Text)
	}

	items := make([]stack.ContentItem, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Type {
		case openai.ContentPartText:
			items = append(items, stack.ContentItem{Type: "text", Text: part.Text})
		case openai.ContentPartImageURL:
			if part.ImageURL == nil {
				continue
			}
			items = append(items, stack.ContentItem{Type: "image", Image: convertImage(part.ImageURL.URL)})
		}
	}
	return stack.Content{Items: items}
}

func convertImage(url string) *stack.ImageContent {
	if strings.HasPrefix(url, "data:") {
		if _, data, ok := strings.Cut(url, ";base64,"); ok {
			return &stack.ImageContent{Data: data}
		}
	}
	return &stack.ImageContent{URL: &stack.URL{URI: url}}
}

func convertToolCalls(calls []openai.ToolCall) []stack.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	out := make([]stack.ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args, _ = json.Marshal(tc.Function.Arguments)
		}
		out = append(out, stack.ToolCall{
			CallID:        tc.ID,
			ToolName:      tc.Function.Name,
			Arguments:     args,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	return out
}
