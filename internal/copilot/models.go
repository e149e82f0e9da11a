package copilot

import (
	"context"
	"strings"
)

// claudePriority is the preference order when the caller asked for a Claude
// variant.
var claudePriority = []string{
	"claude-sonnet-4",
	"claude-3.7-sonnet",
	"claude-3.5-sonnet",
	"claude-3-sonnet-20240229",
	"claude-3-haiku",
}

// hardDefaultModel is used when the upstream listing is empty.
const hardDefaultModel = "gpt-4o"

// PreferredClaudeModel picks the best available Claude model from the
// upstream listing: the priority list first, then any id containing "claude",
// then the first listed model, then a hard default.
func (c *Client) PreferredClaudeModel(ctx context.Context, apiToken string) (string, error) {
	models, err := c.ListModels(ctx, apiToken)
	if err != nil {
		return "", err
	}

	available := make(map[string]bool, len(models))
	for _, m := range models {
		available[m.ID] = true
	}
	for _, id := range claudePriority {
		if available[id] {
			return id, nil
		}
	}
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), "claude") {
			return m.ID, nil
		}
	}
	if len(models) > 0 {
		return models[0].ID, nil
	}
	return hardDefaultModel, nil
}

// FallbackModelForRateLimit picks a replacement model after a 429: gpt-4o if
// listed, else any GPT model, else the current model unchanged (which the
// caller treats as "no fallback available").
func (c *Client) FallbackModelForRateLimit(ctx context.Context, apiToken, current string) (string, error) {
	models, err := c.ListModels(ctx, apiToken)
	if err != nil {
		return "", err
	}

	for _, m := range models {
		if m.ID == "gpt-4o" {
			return m.ID, nil
		}
	}
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), "gpt") {
			return m.ID, nil
		}
	}
	return current, nil
}
