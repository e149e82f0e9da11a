// Package auth implements the GitHub Copilot credential lifecycle: the
// on-disk OAuth credential store, the OAuth 2.0 device-authorization flow,
// and the manager that layers caching and refresh on top of both.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

const (
	// ClientID is the GitHub OAuth app identifier this gateway authenticates
	// as (the VS Code Copilot Chat application).
	ClientID = "Iv1.b507a08c87ecfe98"

	credentialHost = "github.com"
)

// Entry is one credential record in the apps file, keyed by "<host>:<app-id>".
type Entry struct {
	OAuthToken  string `json:"oauth_token"`
	User        string `json:"user"`
	GithubAppID string `json:"githubAppId"`
}

// Store reads and writes the local OAuth credential files. The gateway owns
// appFile; foreignFile belongs to a co-installed Copilot tool and is only
// ever read.
type Store struct {
	appFile     string
	foreignFile string
	mu          sync.Mutex
}

// NewStore creates a credential store over the given file paths.
func NewStore(appFile, foreignFile string) *Store {
	return &Store{
		appFile:     appFile,
		foreignFile: foreignFile,
	}
}

// appKey is the exact credential key for this gateway's OAuth app.
func appKey() string {
	return fmt.Sprintf("%s:%s", credentialHost, ClientID)
}

// ReadOAuthToken returns the stored OAuth token, or false when no usable
// entry exists. Read and parse failures are treated as "not found".
func (s *Store) ReadOAuthToken() (string, bool) {
	entry, ok := s.Lookup()
	if !ok {
		return "", false
	}
	return entry.OAuthToken, true
}

// Lookup returns the first usable credential entry: the exact key for this
// app in the gateway's own file, then any github.com entry there, then the
// same search in the foreign file.
func (s *Store) Lookup() (*Entry, bool) {
	for _, path := range []string{s.appFile, s.foreignFile} {
		entry, ok := readEntry(path)
		if ok {
			return entry, true
		}
	}
	return nil, false
}

func readEntry(path string) (*Entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		logging.Debug("ignoring unparseable credential file", "path", path, "error", err)
		return nil, false
	}

	if entry, ok := entries[appKey()]; ok && entry.OAuthToken != "" {
		return &entry, true
	}
	for key, entry := range entries {
		if strings.HasPrefix(key, credentialHost+":") && entry.OAuthToken != "" {
			return &entry, true
		}
	}
	return nil, false
}

// SaveOAuthToken writes the token into the gateway's own file, creating
// parent directories and preserving unrelated keys. The foreign file is
// never mutated.
func (s *Store) SaveOAuthToken(token, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]Entry)
	if data, err := os.ReadFile(s.appFile); err == nil {
		// Keep whatever is already there; a parse failure means the file is
		// ours to rewrite.
		_ = json.Unmarshal(data, &entries)
	}

	entries[appKey()] = Entry{
		OAuthToken:  token,
		User:        user,
		GithubAppID: ClientID,
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.appFile), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(s.appFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// RemoveOAuthToken deletes this app's entry from the gateway's own file.
// Unrelated keys and the foreign file are left untouched.
func (s *Store) RemoveOAuthToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.appFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse credentials: %w", err)
	}
	delete(entries, appKey())

	updated, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(s.appFile, updated, 0o600); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}
