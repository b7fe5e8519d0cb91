package registration

import (
	"errors"
	"fmt"
)

// Flow error codes. Callers branch on Code; Message is display text only.
const (
	CodeConflict          = "conflict"
	CodeValidation        = "validation"
	CodeDuplicateEmail    = "duplicate_email"
	CodeRateLimited       = "rate_limited"
	CodeNetwork           = "network"
	CodeMalformedResponse = "malformed_response"
	CodeServer            = "server"
	CodeInternal          = "internal"
)

// FlowError is the taxonomy surfaced to the UI. Raw provider errors never
// reach callers unmodified; Details carries the underlying cause for logs only.
type FlowError struct {
	Code       string
	Message    string
	Retryable  bool
	RetryAfter int // seconds, set when Code == CodeRateLimited
	Details    error
}

func (e *FlowError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Details != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Details
}

// Controller sentinel errors.
var (
	// ErrTransitionInFlight rejects a trigger that arrives while another
	// transition is settling; transitions are serialized, never interleaved.
	ErrTransitionInFlight = errors.New("registration: transition in flight")

	// ErrNotIdle rejects a submit when an attempt is already underway.
	ErrNotIdle = errors.New("registration: controller is not idle")

	// ErrClosed rejects operations on a torn-down controller.
	ErrClosed = errors.New("registration: controller closed")

	// ErrNotRetryable rejects a retry of a failure that repeating the same
	// attempt cannot fix, such as a duplicate email.
	ErrNotRetryable = errors.New("registration: failure is not retryable")
)
