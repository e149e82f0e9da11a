package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

// InvalidRequestError is a caller mistake: bad body shape or a missing or
// out-of-range field. Rendered as a 400.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return e.Message
}

func invalidf(format string, args ...any) error {
	return &InvalidRequestError{Message: fmt.Sprintf(format, args...)}
}

// Parse converts a raw /v1/messages body into a normalized request. Real
// clients send content as a string, an array of text blocks, or an array
// mixing text with tool_use/tool_result blocks, and system as either a
// string or a block array; all of these are accepted.
func Parse(body []byte) (*Request, error) {
	if !gjson.ValidBytes(body) {
		return nil, invalidf("request body is not valid JSON")
	}
	root := gjson.ParseBytes(body)

	model := root.Get("model")
	if !model.Exists() || strings.TrimSpace(model.String()) == "" {
		return nil, invalidf("missing required field: model")
	}

	maxTokens := root.Get("max_tokens")
	if !maxTokens.Exists() {
		return nil, invalidf("missing required field: max_tokens")
	}
	if maxTokens.Int() <= 0 {
		return nil, invalidf("max_tokens must be a positive integer")
	}

	messagesNode := root.Get("messages")
	if !messagesNode.Exists() || !messagesNode.IsArray() || len(messagesNode.Array()) == 0 {
		return nil, invalidf("missing required field: messages")
	}

	req := &Request{
		Model:     model.String(),
		MaxTokens: int(maxTokens.Int()),
		Stream:    root.Get("stream").Bool(),
		System:    flattenStringOrBlocks(root.Get("system")),
	}

	for i, node := range messagesNode.Array() {
		role := strings.TrimSpace(node.Get("role").String())
		if role == "" {
			return nil, invalidf("message %d has a blank role", i)
		}

		content := node.Get("content")
		msg := Message{Role: role, Text: flattenStringOrBlocks(content)}
		if content.IsArray() {
			msg.Raw = json.RawMessage(content.Raw)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, invalidf("message %d has blank content", i)
		}
		req.Messages = append(req.Messages, msg)
	}

	if temp := root.Get("temperature"); temp.Exists() {
		v := temp.Float()
		req.Temperature = &v
	}
	if topP := root.Get("top_p"); topP.Exists() {
		v := topP.Float()
		req.TopP = &v
	}
	if topK := root.Get("top_k"); topK.Exists() {
		v := int(topK.Int())
		req.TopK = &v
	}
	for _, s := range root.Get("stop_sequences").Array() {
		req.StopSequences = append(req.StopSequences, s.String())
	}
	if choice := root.Get("tool_choice"); choice.Exists() {
		req.ToolChoice = json.RawMessage(choice.Raw)
	}

	for _, node := range root.Get("tools").Array() {
		tool, ok := parseTool(node)
		if !ok {
			logging.Warn("dropping tool with unrecognized shape", "tool", node.Raw)
			continue
		}
		req.Tools = append(req.Tools, tool)
	}

	return req, nil
}

// parseTool accepts both the Anthropic tool shape {name, input_schema} and an
// already-OpenAI shape {type, function}.
func parseTool(node gjson.Result) (Tool, bool) {
	if name := node.Get("name"); name.Exists() && node.Get("input_schema").Exists() {
		return Tool{
			Name:        name.String(),
			Description: node.Get("description").String(),
			InputSchema: json.RawMessage(node.Get("input_schema").Raw),
		}, true
	}
	if node.Get("type").Exists() && node.Get("function").Exists() {
		return Tool{Raw: json.RawMessage(node.Raw)}, true
	}
	return Tool{}, false
}

// flattenStringOrBlocks turns a string-or-array node into plain text.
func flattenStringOrBlocks(node gjson.Result) string {
	if !node.Exists() {
		return ""
	}
	if node.Type == gjson.String {
		return node.String()
	}
	if node.IsArray() {
		return FlattenBlocks(node)
	}
	return node.String()
}

// FlattenBlocks renders a content-block array as plain text, one line per
// block. The tool_use wording is deliberate prose; bracketed markers teach
// the downstream model to hallucinate marker syntax.
func FlattenBlocks(blocks gjson.Result) string {
	var parts []string
	for _, block := range blocks.Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, block.Get("text").String())
		case "tool_use":
			name := block.Get("name").String()
			input := block.Get("input").Raw
			if input == "" {
				input = "{}"
			}
			parts = append(parts, fmt.Sprintf("I used the %s tool with parameters: %s", name, input))
		case "tool_result":
			content := flattenStringOrBlocks(block.Get("content"))
			if strings.TrimSpace(content) == "" {
				parts = append(parts, "The tool execution completed.")
			} else {
				parts = append(parts, fmt.Sprintf("The tool execution returned: %s", content))
			}
		default:
			parts = append(parts, fmt.Sprintf("[%s]", block.Get("type").String()))
		}
	}
	return strings.Join(parts, "\n")
}
