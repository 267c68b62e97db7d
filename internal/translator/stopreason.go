package translator

import (
	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
)

// The two tables differ on end_of_message: in a chat turn it means the
// model stopped to emit a tool call.
var (
	completionStopReasons = map[stack.StopReason]string{
		stack.StopReasonEndOfTurn:    openai.FinishReasonStop,
		stack.StopReasonEndOfMessage: openai.FinishReasonStop,
		stack.StopReasonOutOfTokens:  openai.FinishReasonLength,
	}

	chatStopReasons = map[stack.StopReason]string{
		stack.StopReasonEndOfTurn:    openai.FinishReasonStop,
		stack.StopReasonEndOfMessage: openai.FinishReasonToolCalls,
		stack.StopReasonOutOfTokens:  openai.FinishReasonLength,
	}
)

// CompletionFinishReason maps a backend stop reason for text completions.
// Unknown reasons map to "".
func CompletionFinishReason(reason stack.StopReason) string {
	return completionStopReasons[reason]
}

// ChatFinishReason maps a backend stop reason for chat completions.
// Unknown reasons map to "".
func ChatFinishReason(reason stack.StopReason) string {
	return chatStopReasons[reason]
}
