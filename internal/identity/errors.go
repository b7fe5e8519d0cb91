package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind discriminates provider failures. The provider surfaces several
// duck-typed error shapes (HTTP errors, relay errors, fetch failures); a
// single normalization point collapses them into this tagged form.
type ErrorKind string

const (
	KindHTTP    ErrorKind = "http"
	KindRelay   ErrorKind = "relay"
	KindNetwork ErrorKind = "network"
	KindUnknown ErrorKind = "unknown"
)

// Sentinel conditions callers branch on with errors.Is.
var (
	// ErrEmailNotConfirmed is the expected-and-retryable sign-in failure while
	// a confirmation email is outstanding. Never surface it to users as an error.
	ErrEmailNotConfirmed = errors.New("identity: email not confirmed")

	// ErrSessionMissing indicates an operation that requires a session was
	// attempted before one was established.
	ErrSessionMissing = errors.New("identity: auth session missing")

	// ErrUserNotFound indicates no identity matches the lookup.
	ErrUserNotFound = errors.New("identity: user not found")

	// ErrInvalidCredentials covers ordinary authentication rejections.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)

// ProviderError is the normalized provider failure.
type ProviderError struct {
	Kind    ErrorKind
	Status  int    // HTTP status when Kind == KindHTTP
	Code    string // provider error code when present
	Message string
	Err     error // sentinel or underlying cause
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Status > 0 {
		return fmt.Sprintf("identity provider: %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("identity provider: %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the failure is transient from the caller's view.
func (e *ProviderError) Retryable() bool {
	if e == nil {
		return false
	}
	if errors.Is(e.Err, ErrEmailNotConfirmed) {
		return true
	}
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTP:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	default:
		return false
	}
}

// normalizeError converts any transport or provider error into a ProviderError.
// It is the single boundary translation point; raw provider errors never pass
// beyond this package unmodified.
func normalizeError(status int, code, message string, cause error) *ProviderError {
	if cause != nil {
		var perr *ProviderError
		if errors.As(cause, &perr) {
			return perr
		}

		var netErr net.Error
		if errors.As(cause, &netErr) || errors.Is(cause, context.DeadlineExceeded) {
			return &ProviderError{Kind: KindNetwork, Message: cause.Error(), Err: cause}
		}
		if status == 0 {
			return &ProviderError{Kind: KindUnknown, Message: cause.Error(), Err: cause}
		}
	}

	lower := strings.ToLower(message)
	switch {
	case code == "email_not_confirmed" || strings.Contains(lower, "not confirmed"):
		return &ProviderError{Kind: KindHTTP, Status: status, Code: code, Message: message, Err: ErrEmailNotConfirmed}
	case status == http.StatusBadGateway || code == "relay_error":
		return &ProviderError{Kind: KindRelay, Status: status, Code: code, Message: message, Err: cause}
	case status == http.StatusNotFound:
		return &ProviderError{Kind: KindHTTP, Status: status, Code: code, Message: message, Err: ErrUserNotFound}
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		if strings.Contains(lower, "session") && strings.Contains(lower, "missing") {
			return &ProviderError{Kind: KindHTTP, Status: status, Code: code, Message: message, Err: ErrSessionMissing}
		}
		return &ProviderError{Kind: KindHTTP, Status: status, Code: code, Message: message, Err: ErrInvalidCredentials}
	case status > 0:
		return &ProviderError{Kind: KindHTTP, Status: status, Code: code, Message: message, Err: cause}
	default:
		return &ProviderError{Kind: KindUnknown, Code: code, Message: message, Err: cause}
	}
}
