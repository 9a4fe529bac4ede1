package collector

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// DefaultLookback is the window collectors fall back to when no since time is
// known for a source.
const DefaultLookback = 7 * 24 * time.Hour

// NewHTTPClient returns the HTTP client collectors share: a 30s overall
// timeout and default redirect handling.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// Since resolves the effective lower bound for a collection. A zero since
// falls back to the default lookback window.
func Since(since time.Time) time.Time {
	if !since.IsZero() {
		return since
	}
	return time.Now().UTC().Add(-DefaultLookback)
}

// CheckResponse maps an HTTP error status to the collector error taxonomy.
// Success statuses return nil.
func CheckResponse(resp *http.Response, context string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	prefix := ""
	if context != "" {
		prefix = context + ": "
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return RateLimitError(prefix+"rate limit exceeded", retryAfter)
	case resp.StatusCode >= 500:
		return NetworkError(fmt.Sprintf("%sserver error: %d", prefix, resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return AuthError(fmt.Sprintf("%sauthentication failed: %d", prefix, resp.StatusCode))
	default:
		// Other client errors carry no dedicated kind.
		return &Error{
			Kind:    KindUnexpected,
			Message: fmt.Sprintf("%srequest failed: %d", prefix, resp.StatusCode),
		}
	}
}
