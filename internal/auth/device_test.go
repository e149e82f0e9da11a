package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestDeviceFlow(t *testing.T, handler http.Handler) (*DeviceFlow, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	flow := NewDeviceFlow(
		WithDeviceEndpoints(srv.URL+"/login/device/code", srv.URL+"/login/oauth/access_token", srv.URL+"/user"),
		WithBrowserOpener(func(string) error { return nil }),
		WithOutput(io.Discard),
		WithSleeper(noSleep),
	)
	return flow, srv
}

func deviceCodeHandler(t *testing.T, w http.ResponseWriter, r *http.Request) {
	t.Helper()
	require.NoError(t, r.ParseForm())
	assert.Equal(t, ClientID, r.Form.Get("client_id"))
	assert.Equal(t, "read:user", r.Form.Get("scope"))
	assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

	json.NewEncoder(w).Encode(map[string]any{
		"device_code":      "dev123",
		"user_code":        "ABCD-1234",
		"verification_uri": "https://github.com/login/device",
		"expires_in":       900,
		"interval":         1,
	})
}

func TestDeviceFlowSuccess(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		deviceCodeHandler(t, w, r)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev123", r.Form.Get("device_code"))
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", r.Form.Get("grant_type"))

		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_token"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token gho_token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	})

	flow, _ := newTestDeviceFlow(t, mux)
	token, user, err := flow.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gho_token", token)
	assert.Equal(t, "octocat", user)
	assert.Equal(t, int32(3), polls.Load())
}

func TestDeviceFlowSlowDownIncreasesInterval(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		deviceCodeHandler(t, w, r)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]string{"error": "slow_down"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_token"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	})

	var delays []time.Duration
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	flow := NewDeviceFlow(
		WithDeviceEndpoints(srv.URL+"/login/device/code", srv.URL+"/login/oauth/access_token", srv.URL+"/user"),
		WithBrowserOpener(func(string) error { return nil }),
		WithOutput(io.Discard),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)

	_, _, err := flow.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, delays, 2)
	assert.Equal(t, 1*time.Second, delays[0])
	assert.Equal(t, 6*time.Second, delays[1])
}

func TestDeviceFlowTerminalErrors(t *testing.T) {
	for _, tc := range []struct {
		oauthError string
		wantMsg    string
	}{
		{"expired_token", "expired"},
		{"access_denied", "denied"},
		{"unsupported_grant_type", "unsupported_grant_type"},
	} {
		t.Run(tc.oauthError, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
				deviceCodeHandler(t, w, r)
			})
			mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"error": tc.oauthError})
			})

			flow, _ := newTestDeviceFlow(t, mux)
			_, _, err := flow.Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestDeviceFlowPollAttemptCap(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		deviceCodeHandler(t, w, r)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
	})

	flow, _ := newTestDeviceFlow(t, mux)
	_, _, err := flow.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, int32(60), polls.Load())
}

func TestDeviceFlowBrowserOpensVerificationURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		deviceCodeHandler(t, w, r)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_token"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var opened string
	flow := NewDeviceFlow(
		WithDeviceEndpoints(srv.URL+"/login/device/code", srv.URL+"/login/oauth/access_token", srv.URL+"/user"),
		WithBrowserOpener(func(u string) error {
			opened = u
			return nil
		}),
		WithOutput(io.Discard),
		WithSleeper(noSleep),
	)

	_, _, err := flow.Run(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(opened, "https://github.com/login/device?user_code="))
	parsed, err := url.Parse(opened)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", parsed.Query().Get("user_code"))
}
