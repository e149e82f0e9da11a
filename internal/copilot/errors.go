package copilot

import (
	"fmt"
	"strings"
)

// TokenExpiredError marks an upstream rejection the gateway can recover from
// by minting a fresh API token and retrying once.
type TokenExpiredError struct {
	StatusCode int
	Message    string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("upstream token expired (status %d): %s", e.StatusCode, e.Message)
}

// RateLimitError marks an upstream rate-limit rejection, recoverable once by
// switching to a fallback model.
type RateLimitError struct {
	StatusCode int
	RetryAfter string
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("upstream rate limited (status %d, retry after %s): %s", e.StatusCode, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("upstream rate limited (status %d): %s", e.StatusCode, e.Message)
}

// UpstreamError is any other non-2xx upstream answer. Not retried.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed (status %d): %s", e.StatusCode, e.Message)
}

// Some deployments leak token expiry or throttling as a 500 with a telling
// error body, so 500s are sniffed for these markers before giving up.
var (
	tokenExpiryMarkers = []string{
		"timeout",
		"expired",
		"unauthorized",
		"authentication",
		"invalid token",
		"token expired",
		"access denied",
		"forbidden",
		"credential",
	}
	rateLimitMarkers = []string{
		"rate limit",
		"quota exceeded",
		"too many requests",
		"429",
		"throttled",
		"usage limit",
	}
)

// classifyError maps an upstream failure status to the retry taxonomy.
func classifyError(statusCode int, retryAfter string, body []byte) error {
	message := strings.TrimSpace(string(body))

	switch statusCode {
	case 401:
		return &TokenExpiredError{StatusCode: statusCode, Message: message}
	case 429:
		return &RateLimitError{StatusCode: statusCode, RetryAfter: retryAfter, Message: message}
	case 500:
		lower := strings.ToLower(message)
		for _, marker := range tokenExpiryMarkers {
			if strings.Contains(lower, marker) {
				return &TokenExpiredError{StatusCode: statusCode, Message: message}
			}
		}
		for _, marker := range rateLimitMarkers {
			if strings.Contains(lower, marker) {
				return &RateLimitError{StatusCode: statusCode, RetryAfter: retryAfter, Message: message}
			}
		}
	}

	return &UpstreamError{StatusCode: statusCode, Message: message}
}
