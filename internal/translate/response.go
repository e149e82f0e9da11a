package translate

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/anthropic"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/copilot"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

// ToAnthropicResponse translates a buffered upstream response into the
// Anthropic shape. requestedModel is echoed into the response's model field
// regardless of which model actually served the call, so a fallback stays
// invisible to the caller.
func ToAnthropicResponse(resp *copilot.ChatResponse, requestedModel string) *anthropic.Response {
	var blocks []anthropic.ContentBlock
	sawToolUse := false

	for _, choice := range resp.Choices {
		if strings.TrimSpace(choice.Message.Content) != "" {
			blocks = append(blocks, anthropic.TextBlock(choice.Message.Content))
		}
		for _, call := range choice.Message.ToolCalls {
			blocks = append(blocks, anthropic.ToolUseBlock(call.ID, call.Function.Name, toolInput(call.Function.Arguments)))
			sawToolUse = true
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.TextBlock(""))
	}

	stopReason := "end_turn"
	if sawToolUse {
		stopReason = "tool_use"
	} else if len(resp.Choices) > 0 {
		switch resp.Choices[0].FinishReason {
		case "length":
			stopReason = "max_tokens"
		}
	}

	return &anthropic.Response{
		ID:         "msg_" + uuid.New().String(),
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      requestedModel,
		StopReason: stopReason,
		Usage: anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

// toolInput parses LLM-produced tool arguments defensively: on failure the
// raw string is wrapped rather than failing the whole response.
func toolInput(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}

	logging.Warn("tool arguments are not valid JSON, wrapping raw string")
	wrapped, err := json.Marshal(map[string]string{"arguments": arguments})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}
