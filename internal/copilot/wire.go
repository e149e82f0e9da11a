// Package copilot wraps the GitHub Copilot chat backend: token exchange,
// model listing, and OpenAI-shaped chat completions, buffered and streaming.
package copilot

import "encoding/json"

// ChatMessage is one message in the upstream chat dialect.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to invoke a function.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the function name and its LLM-produced arguments.
// Arguments is an opaque JSON string; it is never parsed on the way upstream.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a callable function to the model. Parameters is the caller's
// JSON schema, spliced through verbatim.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function half of a tool declaration.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the body POSTed to /chat/completions.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream"`
	Stop        []string        `json:"stop,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

// Choice is one completion alternative in a buffered response.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage is the token accounting attached to a buffered response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a buffered /chat/completions response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ModelCapabilities is the subset of capability flags the gateway reads.
type ModelCapabilities struct {
	SupportsStreaming bool `json:"supports_streaming,omitempty"`
	SupportsToolCalls bool `json:"supports_tool_calls,omitempty"`
}

// Model is one entry from the upstream model listing.
type Model struct {
	ID           string             `json:"id"`
	Capabilities *ModelCapabilities `json:"capabilities,omitempty"`
}

// modelsResponse is the envelope returned by GET /models.
type modelsResponse struct {
	Data []Model `json:"data"`
}
