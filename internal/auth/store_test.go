package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialFile(t *testing.T, path string, entries map[string]Entry) {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestReadOAuthTokenMissingFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "app.json"), filepath.Join(dir, "apps.json"))

	token, ok := store.ReadOAuthToken()
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestReadOAuthTokenExactKey(t *testing.T) {
	dir := t.TempDir()
	appFile := filepath.Join(dir, "app.json")
	writeCredentialFile(t, appFile, map[string]Entry{
		"github.com:" + ClientID: {OAuthToken: "gho_exact", User: "alice"},
		"github.com:other-app":   {OAuthToken: "gho_other", User: "bob"},
	})

	store := NewStore(appFile, filepath.Join(dir, "apps.json"))
	token, ok := store.ReadOAuthToken()
	require.True(t, ok)
	assert.Equal(t, "gho_exact", token)
}

func TestReadOAuthTokenPrefixFallback(t *testing.T) {
	dir := t.TempDir()
	appFile := filepath.Join(dir, "app.json")
	writeCredentialFile(t, appFile, map[string]Entry{
		"github.com:some-other-app": {OAuthToken: "gho_fallback", User: "alice"},
		"gitlab.com:whatever":       {OAuthToken: "glpat_nope", User: "eve"},
	})

	store := NewStore(appFile, filepath.Join(dir, "apps.json"))
	token, ok := store.ReadOAuthToken()
	require.True(t, ok)
	assert.Equal(t, "gho_fallback", token)
}

func TestReadOAuthTokenForeignFallback(t *testing.T) {
	dir := t.TempDir()
	foreignFile := filepath.Join(dir, "github-copilot", "apps.json")
	writeCredentialFile(t, foreignFile, map[string]Entry{
		"github.com:Iv1.deadbeef": {OAuthToken: "gho_foreign", User: "carol"},
	})

	store := NewStore(filepath.Join(dir, "app.json"), foreignFile)
	token, ok := store.ReadOAuthToken()
	require.True(t, ok)
	assert.Equal(t, "gho_foreign", token)
}

func TestReadOAuthTokenUnparseableFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	appFile := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(appFile, []byte("not json"), 0o600))

	store := NewStore(appFile, filepath.Join(dir, "apps.json"))
	_, ok := store.ReadOAuthToken()
	assert.False(t, ok)
}

func TestSaveOAuthTokenCreatesDirsAndPreservesKeys(t *testing.T) {
	dir := t.TempDir()
	appFile := filepath.Join(dir, "nested", "config", "app.json")

	store := NewStore(appFile, filepath.Join(dir, "apps.json"))
	require.NoError(t, store.SaveOAuthToken("gho_first", "alice"))

	// Simulate an unrelated entry written by another tool.
	data, err := os.ReadFile(appFile)
	require.NoError(t, err)
	entries := make(map[string]Entry)
	require.NoError(t, json.Unmarshal(data, &entries))
	entries["github.com:unrelated"] = Entry{OAuthToken: "gho_keep", User: "bob"}
	writeCredentialFile(t, appFile, entries)

	require.NoError(t, store.SaveOAuthToken("gho_second", "alice"))

	data, err = os.ReadFile(appFile)
	require.NoError(t, err)
	entries = make(map[string]Entry)
	require.NoError(t, json.Unmarshal(data, &entries))

	assert.Equal(t, "gho_second", entries["github.com:"+ClientID].OAuthToken)
	assert.Equal(t, "alice", entries["github.com:"+ClientID].User)
	assert.Equal(t, ClientID, entries["github.com:"+ClientID].GithubAppID)
	assert.Equal(t, "gho_keep", entries["github.com:unrelated"].OAuthToken)
}

func TestSaveOAuthTokenNeverTouchesForeignFile(t *testing.T) {
	dir := t.TempDir()
	foreignFile := filepath.Join(dir, "apps.json")
	writeCredentialFile(t, foreignFile, map[string]Entry{
		"github.com:Iv1.deadbeef": {OAuthToken: "gho_foreign"},
	})
	before, err := os.ReadFile(foreignFile)
	require.NoError(t, err)

	store := NewStore(filepath.Join(dir, "app.json"), foreignFile)
	require.NoError(t, store.SaveOAuthToken("gho_new", "alice"))

	after, err := os.ReadFile(foreignFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRemoveOAuthToken(t *testing.T) {
	dir := t.TempDir()
	appFile := filepath.Join(dir, "app.json")
	writeCredentialFile(t, appFile, map[string]Entry{
		"github.com:" + ClientID: {OAuthToken: "gho_mine"},
		"github.com:unrelated":   {OAuthToken: "gho_keep"},
	})

	store := NewStore(appFile, filepath.Join(dir, "apps.json"))
	require.NoError(t, store.RemoveOAuthToken())

	data, err := os.ReadFile(appFile)
	require.NoError(t, err)
	entries := make(map[string]Entry)
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.NotContains(t, entries, "github.com:"+ClientID)
	assert.Contains(t, entries, "github.com:unrelated")

	// Removing when nothing is on file is a no-op.
	missing := NewStore(filepath.Join(dir, "absent.json"), filepath.Join(dir, "apps.json"))
	assert.NoError(t, missing.RemoveOAuthToken())
}
