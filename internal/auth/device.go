package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

const (
	defaultDeviceCodeURL  = "https://github.com/login/device/code"
	defaultAccessTokenURL = "https://github.com/login/oauth/access_token"
	defaultUserURL        = "https://api.github.com/user"

	oauthScope      = "read:user"
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	maxPollAttempts = 60
)

// DeviceFlow performs the OAuth 2.0 device-authorization grant against GitHub.
type DeviceFlow struct {
	client *http.Client

	deviceCodeURL  string
	accessTokenURL string
	userURL        string

	openBrowser func(url string) error
	out         io.Writer

	// sleep is swapped out in tests to avoid real polling delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// DeviceFlowOption configures a DeviceFlow.
type DeviceFlowOption func(*DeviceFlow)

// WithDeviceEndpoints overrides the GitHub endpoints, for tests.
func WithDeviceEndpoints(deviceCodeURL, accessTokenURL, userURL string) DeviceFlowOption {
	return func(d *DeviceFlow) {
		d.deviceCodeURL = deviceCodeURL
		d.accessTokenURL = accessTokenURL
		d.userURL = userURL
	}
}

// WithBrowserOpener overrides how the verification URI is presented.
func WithBrowserOpener(open func(url string) error) DeviceFlowOption {
	return func(d *DeviceFlow) {
		d.openBrowser = open
	}
}

// WithOutput redirects the user-facing instructions (default stdout).
func WithOutput(w io.Writer) DeviceFlowOption {
	return func(d *DeviceFlow) {
		d.out = w
	}
}

// WithSleeper overrides the inter-poll delay, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) DeviceFlowOption {
	return func(d *DeviceFlow) {
		d.sleep = sleep
	}
}

// NewDeviceFlow creates a device-authorization flow client.
func NewDeviceFlow(opts ...DeviceFlowOption) *DeviceFlow {
	d := &DeviceFlow{
		client:         &http.Client{Timeout: 30 * time.Second},
		deviceCodeURL:  defaultDeviceCodeURL,
		accessTokenURL: defaultAccessTokenURL,
		userURL:        defaultUserURL,
		openBrowser:    openBrowser,
		out:            os.Stdout,
		sleep:          sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// deviceCodeResponse is the provider's answer to a device-code request.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

// Run performs the full device-authorization flow and returns the OAuth
// access token together with the authenticated user's login.
func (d *DeviceFlow) Run(ctx context.Context) (token, user string, err error) {
	code, err := d.requestDeviceCode(ctx)
	if err != nil {
		return "", "", err
	}

	d.presentToUser(code)

	token, err = d.pollForAccessToken(ctx, code)
	if err != nil {
		return "", "", err
	}

	user, err = d.fetchUserLogin(ctx, token)
	if err != nil {
		// The token is already valid; a failed identity lookup only costs
		// the provenance record.
		logging.Warn("failed to resolve authenticated user", "error", err)
		user = ""
	}
	return token, user, nil
}

func (d *DeviceFlow) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	form := url.Values{
		"client_id": {ClientID},
		"scope":     {oauthScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.deviceCodeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device code request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read device code response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device code request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var code deviceCodeResponse
	if err := json.Unmarshal(body, &code); err != nil {
		return nil, fmt.Errorf("failed to parse device code response: %w", err)
	}
	if code.DeviceCode == "" || code.UserCode == "" {
		return nil, fmt.Errorf("device code response missing codes")
	}
	if code.Interval <= 0 {
		code.Interval = 5
	}
	return &code, nil
}

func (d *DeviceFlow) presentToUser(code *deviceCodeResponse) {
	verifyURL := fmt.Sprintf("%s?user_code=%s", code.VerificationURI, url.QueryEscape(code.UserCode))
	if err := d.openBrowser(verifyURL); err != nil {
		logging.Debug("could not open browser", "error", err)
	}
	fmt.Fprintf(d.out, "Open %s and enter code: %s\n", code.VerificationURI, code.UserCode)
}

func (d *DeviceFlow) pollForAccessToken(ctx context.Context, code *deviceCodeResponse) (string, error) {
	form := url.Values{
		"client_id":   {ClientID},
		"device_code": {code.DeviceCode},
		"grant_type":  {deviceGrantType},
	}
	interval := time.Duration(code.Interval) * time.Second

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		if err := d.sleep(ctx, interval); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.accessTokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", fmt.Errorf("failed to create access token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("access token request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read access token response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("access token request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var tokenResp accessTokenResponse
		if err := json.Unmarshal(body, &tokenResp); err != nil {
			return "", fmt.Errorf("failed to parse access token response: %w", err)
		}
		if tokenResp.AccessToken != "" {
			return tokenResp.AccessToken, nil
		}

		switch tokenResp.Error {
		case "authorization_pending":
			continue
		case "slow_down":
			interval += 5 * time.Second
			continue
		case "expired_token":
			return "", fmt.Errorf("device code expired before authorization")
		case "access_denied":
			return "", fmt.Errorf("authorization was denied")
		default:
			return "", fmt.Errorf("device authorization failed: %s", tokenResp.Error)
		}
	}

	return "", fmt.Errorf("device authorization timed out after %d attempts", maxPollAttempts)
}

func (d *DeviceFlow) fetchUserLogin(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.userURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user request failed with status %d", resp.StatusCode)
	}

	var user struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("failed to parse user response: %w", err)
	}
	return user.Login, nil
}

// openBrowser opens the URL in the default browser for the current platform.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return fmt.Errorf("unsupported platform")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
