// Package translate converts between the Anthropic message dialect and the
// OpenAI-shaped upstream dialect. Both directions are pure functions.
package translate

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/anthropic"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/copilot"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

const (
	// maxTokensCap is the upstream ceiling; larger requests are clamped.
	maxTokensCap = 4096
	// defaultMaxTokens replaces non-positive values.
	defaultMaxTokens = 100

	// placeholderContent replaces blank message content, which the upstream
	// rejects.
	placeholderContent = "Hello"
)

// ClampMaxTokens bounds a caller-supplied max_tokens to what the upstream
// accepts.
func ClampMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultMaxTokens
	}
	if maxTokens > maxTokensCap {
		return maxTokensCap
	}
	return maxTokens
}

// ToChatRequest translates a normalized Anthropic request into the upstream
// chat shape. The model field carries the caller's request verbatim; the
// forwarder substitutes the actually-used model before sending.
func ToChatRequest(req *anthropic.Request) *copilot.ChatRequest {
	out := &copilot.ChatRequest{
		Model:      req.Model,
		MaxTokens:  ClampMaxTokens(req.MaxTokens),
		Stream:     req.Stream,
		Stop:       req.StopSequences,
		TopP:       req.TopP,
		ToolChoice: req.ToolChoice,
	}

	if req.Temperature != nil {
		if t := *req.Temperature; t >= 0.0 && t <= 2.0 {
			out.Temperature = &t
		} else {
			logging.Warn("dropping out-of-range temperature", "temperature", t)
		}
	}

	if strings.TrimSpace(req.System) != "" {
		out.Messages = append(out.Messages, copilot.ChatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, translateMessage(msg))
	}
	if len(out.Messages) == 0 {
		out.Messages = []copilot.ChatMessage{{Role: "user", Content: placeholderContent}}
	}

	for _, tool := range req.Tools {
		converted, ok := translateTool(tool)
		if !ok {
			logging.Warn("dropping untranslatable tool", "name", tool.Name)
			continue
		}
		out.Tools = append(out.Tools, converted)
	}

	return out
}

// translateMessage rebuilds one message. When the caller sent a content-block
// array the blocks are walked to recover structured tool calls; a plain
// string passes through.
func translateMessage(msg anthropic.Message) copilot.ChatMessage {
	if msg.Raw == nil {
		content := msg.Text
		if strings.TrimSpace(content) == "" {
			content = placeholderContent
		}
		return copilot.ChatMessage{Role: msg.Role, Content: content}
	}

	out := copilot.ChatMessage{Role: msg.Role}
	var textParts []string

	for _, block := range gjson.ParseBytes(msg.Raw).Array() {
		switch block.Get("type").String() {
		case "text":
			textParts = append(textParts, block.Get("text").String())
		case "tool_use":
			id := block.Get("id").String()
			if id == "" {
				id = "call_" + uuid.New().String()
			}
			input := block.Get("input").Raw
			if input == "" {
				input = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, copilot.ToolCall{
				ID:   id,
				Type: "function",
				Function: copilot.ToolCallFunction{
					Name:      block.Get("name").String(),
					Arguments: input,
				},
			})
		case "tool_result":
			out.ToolCallID = block.Get("tool_use_id").String()
			if content := block.Get("content"); content.Exists() {
				if content.IsArray() {
					textParts = append(textParts, anthropic.FlattenBlocks(content))
				} else {
					textParts = append(textParts, content.String())
				}
			}
		}
	}

	out.Content = strings.Join(textParts, "\n")
	return out
}

// translateTool converts an Anthropic-shaped tool descriptor, or passes an
// already-OpenAI one through byte-for-byte.
func translateTool(tool anthropic.Tool) (copilot.Tool, bool) {
	if tool.Name != "" {
		return copilot.Tool{
			Type: "function",
			Function: copilot.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}, true
	}
	if tool.Raw != nil {
		var passthrough copilot.Tool
		if err := json.Unmarshal(tool.Raw, &passthrough); err != nil {
			return copilot.Tool{}, false
		}
		return passthrough, true
	}
	return copilot.Tool{}, false
}
