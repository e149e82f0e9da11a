// Package anthropic implements the Anthropic message dialect: a permissive
// request parser tolerant of real-world shape variation, and the response
// types the gateway renders back to Anthropic callers.
package anthropic

import "encoding/json"

// Message is one normalized inbound message. Raw holds the original
// content-block array when the caller sent one, so the translator can emit
// structured tool calls instead of the flattened prose in Text.
type Message struct {
	Role string
	Text string
	Raw  json.RawMessage
}

// Tool is one normalized tool descriptor. Anthropic-shaped tools carry
// Name/Description/InputSchema; tools already in the OpenAI shape carry the
// original bytes in Raw and nothing else.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Raw         json.RawMessage
}

// Request is the normalized, dialect-independent form of an inbound
// /v1/messages body.
type Request struct {
	Model         string
	MaxTokens     int
	Messages      []Message
	System        string
	Stream        bool
	Temperature   *float64
	TopP          *float64
	TopK          *int
	StopSequences []string
	Tools         []Tool
	ToolChoice    json.RawMessage
}

// ContentBlock is one element of an outbound response's content array.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// TextBlock builds a text content block. The text field stays present even
// when empty; the wire contract requires at least one block per response.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: &text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

// Usage is the token accounting in an outbound response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is an outbound /v1/messages response.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}
