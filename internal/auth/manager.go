package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

// APIToken is the short-lived bearer credential minted from an OAuth token.
// It lives only in memory.
type APIToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int64  `json:"refresh_in"`
	Endpoints struct {
		API string `json:"api"`
	} `json:"endpoints"`
}

// IsExpired checks if the token is expired or will expire soon (5 minutes buffer)
func (t *APIToken) IsExpired() bool {
	return time.Now().Unix() >= (t.ExpiresAt - 300) // 5 minute buffer
}

// TokenExchanger mints an API token from an OAuth token. Implemented by the
// upstream client.
type TokenExchanger interface {
	ExchangeOAuthToken(ctx context.Context, oauthToken string) (*APIToken, error)
}

// Authenticator obtains a fresh OAuth token interactively. Implemented by
// DeviceFlow.
type Authenticator interface {
	Run(ctx context.Context) (token, user string, err error)
}

// Manager layers caching and refresh over the credential store, the device
// flow, and the token exchange. Its single job is producing a currently-valid
// API token on demand.
type Manager struct {
	store     *Store
	auth      Authenticator
	exchanger TokenExchanger

	mu         sync.Mutex
	apiToken   *APIToken
	oauthToken string
}

// NewManager creates a credential manager.
func NewManager(store *Store, auth Authenticator, exchanger TokenExchanger) *Manager {
	return &Manager{
		store:     store,
		auth:      auth,
		exchanger: exchanger,
	}
}

// ValidAPIToken returns a usable API token, refreshing it when the cached one
// is within the 5-minute expiry buffer.
func (m *Manager) ValidAPIToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.apiToken != nil && !m.apiToken.IsExpired() {
		return m.apiToken.Token, nil
	}
	return m.refreshLocked(ctx)
}

// ForceRefreshAPIToken discards the cached API token and mints a new one.
// Called after an upstream 401.
func (m *Manager) ForceRefreshAPIToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.apiToken = nil
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	oauth, err := m.oauthTokenLocked(ctx)
	if err != nil {
		return "", err
	}

	token, err := m.exchanger.ExchangeOAuthToken(ctx, oauth)
	if err != nil {
		return "", fmt.Errorf("failed to exchange OAuth token: %w", err)
	}

	m.apiToken = token
	logging.Debug("minted API token", "expires_at", token.ExpiresAt)
	return token.Token, nil
}

// oauthTokenLocked returns the long-lived OAuth token: cached, from disk, or
// by running the interactive device flow (persisting the result).
func (m *Manager) oauthTokenLocked(ctx context.Context) (string, error) {
	if m.oauthToken != "" {
		return m.oauthToken, nil
	}

	if token, ok := m.store.ReadOAuthToken(); ok {
		m.oauthToken = token
		return token, nil
	}

	logging.Info("no OAuth token on file, starting device authorization")
	token, user, err := m.auth.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("device authorization failed: %w", err)
	}
	if err := m.store.SaveOAuthToken(token, user); err != nil {
		return "", fmt.Errorf("failed to persist OAuth token: %w", err)
	}

	m.oauthToken = token
	return token, nil
}
