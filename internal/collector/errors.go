package collector

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. The set is closed so the orchestrator can classify failures
// without inspecting adapter internals.
const (
	KindAuth       = "auth"
	KindRateLimit  = "rate_limit"
	KindNetwork    = "network"
	KindConfig     = "config"
	KindUnexpected = "unexpected"
)

// Error is the single failure type collectors report. Kind identifies the
// failure class; RetryAfter is set only for rate-limit errors that carried a
// server hint.
type Error struct {
	Kind        string
	Message     string
	Recoverable bool
	RetryAfter  time.Duration
	wrapped     error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// AuthError reports invalid or expired credentials. Not recoverable; the
// source is left active for manual remediation.
func AuthError(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

// RateLimitError reports an exceeded rate limit with an optional retry hint.
func RateLimitError(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: message, Recoverable: true, RetryAfter: retryAfter}
}

// NetworkError reports a transient transport failure.
func NetworkError(message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Recoverable: true, wrapped: cause}
}

// ConfigError reports malformed source configuration. Not recoverable.
func ConfigError(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// Classify returns the taxonomy kind of err. Errors outside the taxonomy are
// tagged unexpected and treated as non-recoverable for that source.
func Classify(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnexpected
}
