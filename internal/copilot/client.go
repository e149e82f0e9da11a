package copilot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/auth"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

const (
	defaultIdentityBase = "https://api.github.com"
	defaultAPIBase      = "https://api.individual.githubcopilot.com"

	// The backend rejects chat calls that do not advertise an editor.
	editorVersion       = "vscode/1.95.0"
	editorPluginVersion = "copilot/1.0.0"
	userAgent           = "GitHub-Copilot-LLM-Provider/1.0"
)

// Client talks to the Copilot backend. The API base URL starts at a known
// default and is overwritten by endpoint discovery on the first token
// exchange.
type Client struct {
	httpClient   *http.Client
	identityBase string

	mu      sync.RWMutex
	apiBase string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client, for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithIdentityBase overrides the GitHub identity base URL, for tests.
func WithIdentityBase(base string) ClientOption {
	return func(c *Client) {
		c.identityBase = strings.TrimRight(base, "/")
	}
}

// WithAPIBase overrides the initial API base URL, for tests.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(base, "/")
	}
}

// NewClient creates an upstream client. Streaming completions can run for
// minutes, so the overall timeout is generous while the dial stays tight.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 30 * time.Second,
				}).DialContext,
			},
		},
		identityBase: defaultIdentityBase,
		apiBase:      defaultAPIBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeOAuthToken mints a short-lived API token from a long-lived OAuth
// token and caches the discovered API endpoint.
func (c *Client) ExchangeOAuthToken(ctx context.Context, oauthToken string) (*auth.APIToken, error) {
	url := c.identityBase + "/copilot_internal/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", "token "+oauthToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token auth.APIToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("token response missing token")
	}

	if token.Endpoints.API != "" {
		c.mu.Lock()
		c.apiBase = strings.TrimRight(token.Endpoints.API, "/")
		c.mu.Unlock()
		logging.Debug("discovered API endpoint", "endpoint", token.Endpoints.API)
	}

	return &token, nil
}

// APIEndpoint returns the current API base URL.
func (c *Client) APIEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiBase
}

func (c *Client) setAPIHeaders(req *http.Request, apiToken string) {
	req.Header.Set("Authorization", "Bearer "+apiToken)
	req.Header.Set("Editor-Version", editorVersion)
	req.Header.Set("Editor-Plugin-Version", editorPluginVersion)
	req.Header.Set("User-Agent", userAgent)
}

// ListModels fetches the upstream model listing.
func (c *Client) ListModels(ctx context.Context, apiToken string) ([]Model, error) {
	url := c.APIEndpoint() + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	c.setAPIHeaders(req, apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, resp.Header.Get("Retry-After"), body)
	}

	var models modelsResponse
	if err := json.Unmarshal(body, &models); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	return models.Data, nil
}

// ChatCompletion performs a buffered chat-completion call.
func (c *Client) ChatCompletion(ctx context.Context, apiToken string, chatReq *ChatRequest) (*ChatResponse, error) {
	chatReq.Stream = false
	resp, err := c.postChatCompletion(ctx, apiToken, chatReq, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion response: %w", err)
	}

	var completion ChatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("failed to parse completion response: %w", err)
	}
	return &completion, nil
}

// StreamEvent is one SSE payload from a streaming completion. A non-nil Err
// terminates the stream.
type StreamEvent struct {
	Data string
	Err  error
}

// ChatCompletionStream performs a streaming chat-completion call. Payloads
// arrive on the returned channel in upstream order; the channel closes after
// the final chunk or a terminal event carrying Err. The upstream [DONE]
// marker is consumed, not forwarded.
func (c *Client) ChatCompletionStream(ctx context.Context, apiToken string, chatReq *ChatRequest) (<-chan StreamEvent, error) {
	chatReq.Stream = true
	resp, err := c.postChatCompletion(ctx, apiToken, chatReq, true)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return
			}
			select {
			case events <- StreamEvent{Data: payload}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case events <- StreamEvent{Err: fmt.Errorf("stream read failed: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return events, nil
}

func (c *Client) postChatCompletion(ctx context.Context, apiToken string, chatReq *ChatRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := c.APIEndpoint() + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	c.setAPIHeaders(req, apiToken)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, classifyError(resp.StatusCode, resp.Header.Get("Retry-After"), errBody)
	}
	return resp, nil
}
