// Package forward orchestrates upstream calls: model selection, one forced
// token refresh after an expiry, and one model-fallback retry after a rate
// limit, with the fallback sticky for the rest of the session.
package forward

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/anthropic"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/copilot"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/translate"
)

// TokenProvider yields currently-valid API tokens. Implemented by
// auth.Manager.
type TokenProvider interface {
	ValidAPIToken(ctx context.Context) (string, error)
	ForceRefreshAPIToken(ctx context.Context) (string, error)
}

// UpstreamClient is the slice of the Copilot client the forwarder drives.
type UpstreamClient interface {
	ChatCompletion(ctx context.Context, apiToken string, req *copilot.ChatRequest) (*copilot.ChatResponse, error)
	ChatCompletionStream(ctx context.Context, apiToken string, req *copilot.ChatRequest) (<-chan copilot.StreamEvent, error)
	ListModels(ctx context.Context, apiToken string) ([]copilot.Model, error)
	PreferredClaudeModel(ctx context.Context, apiToken string) (string, error)
	FallbackModelForRateLimit(ctx context.Context, apiToken, current string) (string, error)
}

// maxTokenRetries bounds the refresh-and-retry recovery after a 401.
const maxTokenRetries = 1

// Forwarder wraps every upstream call with the retry and fallback policy.
type Forwarder struct {
	tokens TokenProvider
	client UpstreamClient

	mu                   sync.Mutex
	sessionFallbackModel string
}

// New creates a forwarder.
func New(tokens TokenProvider, client UpstreamClient) *Forwarder {
	return &Forwarder{tokens: tokens, client: client}
}

// InitialModelSelection maps a caller-requested model name onto the upstream
// catalog by pure string matching.
func InitialModelSelection(requested string) string {
	switch {
	case strings.HasPrefix(requested, "claude-3.7"):
		return "claude-3.7-sonnet"
	case strings.HasPrefix(requested, "claude-3.5"):
		return "claude-3.5-sonnet"
	case strings.HasPrefix(requested, "claude"):
		return "claude-sonnet-4"
	case strings.HasPrefix(requested, "gpt-4"):
		return "gpt-4o"
	case strings.HasPrefix(requested, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		return requested
	}
}

// FallbackModel returns the sticky session fallback, empty when unset.
func (f *Forwarder) FallbackModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionFallbackModel
}

// ResetFallbackModel clears the sticky fallback. Not wired to any automatic
// trigger; operator tooling and tests only.
func (f *Forwarder) ResetFallbackModel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionFallbackModel = ""
}

func (f *Forwarder) setFallbackModel(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionFallbackModel = model
}

// actualBestModel consults the live model listing only when the caller asked
// for a Claude variant; everything else uses the pure name mapping.
func (f *Forwarder) actualBestModel(ctx context.Context, requested, apiToken string) string {
	selected := InitialModelSelection(requested)
	if !strings.HasPrefix(strings.ToLower(requested), "claude") {
		return selected
	}
	best, err := f.client.PreferredClaudeModel(ctx, apiToken)
	if err != nil {
		logging.Warn("model listing failed, using name-mapped selection", "model", selected, "error", err)
		return selected
	}
	return best
}

// executeWithRetry runs op with a valid token and the selected model,
// recovering once from a token expiry (forced refresh) and once from a rate
// limit (model fallback). Any other failure surfaces immediately.
func (f *Forwarder) executeWithRetry(ctx context.Context, requestedModel string, op func(apiToken, model string) error) error {
	model := f.FallbackModel()
	sticky := model != ""
	if !sticky {
		model = InitialModelSelection(requestedModel)
	}

	var lastErr error
	for attempt := 0; attempt <= maxTokenRetries; attempt++ {
		var (
			apiToken string
			err      error
		)
		if attempt == 0 {
			apiToken, err = f.tokens.ValidAPIToken(ctx)
		} else {
			logging.Info("upstream rejected token, forcing refresh", "attempt", attempt)
			apiToken, err = f.tokens.ForceRefreshAPIToken(ctx)
		}
		if err != nil {
			return err
		}
		if attempt == 0 && !sticky {
			model = f.actualBestModel(ctx, requestedModel, apiToken)
		}

		err = op(apiToken, model)
		if err == nil {
			return nil
		}

		var expired *copilot.TokenExpiredError
		if errors.As(err, &expired) {
			lastErr = err
			continue
		}

		var rateLimited *copilot.RateLimitError
		if errors.As(err, &rateLimited) {
			newModel, ferr := f.client.FallbackModelForRateLimit(ctx, apiToken, model)
			if ferr != nil {
				logging.Warn("fallback model lookup failed", "error", ferr)
				return err
			}
			if newModel == model {
				// No fallback family available; surface the rate limit.
				return err
			}
			logging.Warn("rate limited, switching session to fallback model",
				"from", model, "to", newModel, "retry_after", rateLimited.RetryAfter)
			f.setFallbackModel(newModel)
			return op(apiToken, newModel)
		}

		return err
	}
	return lastErr
}

// ChatCompletion forwards a buffered OpenAI-dialect request.
func (f *Forwarder) ChatCompletion(ctx context.Context, req *copilot.ChatRequest) (*copilot.ChatResponse, error) {
	req.MaxTokens = clampIfSet(req.MaxTokens)

	var resp *copilot.ChatResponse
	err := f.executeWithRetry(ctx, req.Model, func(apiToken, model string) error {
		attempt := *req
		attempt.Model = model
		r, err := f.client.ChatCompletion(ctx, apiToken, &attempt)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ChatCompletionStream forwards a streaming OpenAI-dialect request. Retries
// cover only failures that happen before the stream opens.
func (f *Forwarder) ChatCompletionStream(ctx context.Context, req *copilot.ChatRequest) (<-chan copilot.StreamEvent, error) {
	req.MaxTokens = clampIfSet(req.MaxTokens)

	var events <-chan copilot.StreamEvent
	err := f.executeWithRetry(ctx, req.Model, func(apiToken, model string) error {
		attempt := *req
		attempt.Model = model
		ch, err := f.client.ChatCompletionStream(ctx, apiToken, &attempt)
		if err != nil {
			return err
		}
		events = ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Message forwards a buffered Anthropic-dialect request, translating in both
// directions.
func (f *Forwarder) Message(ctx context.Context, req *anthropic.Request) (*anthropic.Response, error) {
	chatReq := translate.ToChatRequest(req)

	var resp *copilot.ChatResponse
	err := f.executeWithRetry(ctx, req.Model, func(apiToken, model string) error {
		attempt := *chatReq
		attempt.Model = model
		r, err := f.client.ChatCompletion(ctx, apiToken, &attempt)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return translate.ToAnthropicResponse(resp, req.Model), nil
}

// MessageStream forwards a streaming Anthropic-dialect request. Chunks are
// relayed in the upstream's shape, not re-encoded as Anthropic stream events.
func (f *Forwarder) MessageStream(ctx context.Context, req *anthropic.Request) (<-chan copilot.StreamEvent, error) {
	chatReq := translate.ToChatRequest(req)

	var events <-chan copilot.StreamEvent
	err := f.executeWithRetry(ctx, req.Model, func(apiToken, model string) error {
		attempt := *chatReq
		attempt.Model = model
		attempt.Stream = true
		ch, err := f.client.ChatCompletionStream(ctx, apiToken, &attempt)
		if err != nil {
			return err
		}
		events = ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Models lists upstream models with the same token-retry policy.
func (f *Forwarder) Models(ctx context.Context) ([]copilot.Model, error) {
	var models []copilot.Model
	err := f.executeWithRetry(ctx, "", func(apiToken, _ string) error {
		m, err := f.client.ListModels(ctx, apiToken)
		if err != nil {
			return err
		}
		models = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// clampIfSet bounds max_tokens when the caller supplied one; zero means the
// caller left it to the upstream default.
func clampIfSet(maxTokens int) int {
	if maxTokens == 0 {
		return 0
	}
	return translate.ClampMaxTokens(maxTokens)
}
