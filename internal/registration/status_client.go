package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Email classifications returned by the status endpoint.
const (
	StatusNotRegistered        = "not_registered"
	StatusRegisteredVerified   = "registered_verified"
	StatusRegisteredUnverified = "registered_unverified"
)

// ProbeResult is the server's classification of one email address.
type ProbeResult struct {
	Email        string     `json:"email"`
	Status       string     `json:"status"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`

	// Recovery hints, present only when the server resolved membership data.
	HasCompanyData *bool `json:"has_company_data,omitempty"`
	IsOrphaned     *bool `json:"is_orphaned,omitempty"`
}

// ProbeError is the taxonomy surfaced to probe callers. Code discriminates;
// Message is display text only.
type ProbeError struct {
	Code       string
	Message    string
	RetryAfter int // seconds, set when Code == CodeRateLimited
	Remaining  int // remaining quota, set when Code == CodeRateLimited
	Details    error
}

func (e *ProbeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Details != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Details
}

// StatusChecker classifies an email address. The HTTP implementation hits the
// registration service; tests substitute their own.
type StatusChecker interface {
	Check(ctx context.Context, email string) (*ProbeResult, error)
}

// StatusClientConfig configures HTTPStatusClient.
type StatusClientConfig struct {
	// Endpoint is the full URL of the email-status route.
	Endpoint string

	// APIKey rides on every request as the apikey header. Optional.
	APIKey string

	// HTTPClient overrides the default transport. Optional.
	HTTPClient *http.Client
}

// HTTPStatusClient implements StatusChecker against the registration service.
type HTTPStatusClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPStatusClient builds a status client.
func NewHTTPStatusClient(cfg StatusClientConfig) (*HTTPStatusClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("registration: status endpoint is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStatusClient{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, client: client}, nil
}

type statusRequest struct {
	Email string `json:"email"`
}

type statusEnvelope struct {
	Data  *ProbeResult `json:"data"`
	Error *struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
		Remaining  int    `json:"remaining"`
	} `json:"error"`
}

// Check posts the address and maps the response into the probe taxonomy.
func (c *HTTPStatusClient) Check(ctx context.Context, email string) (*ProbeResult, error) {
	encoded, err := json.Marshal(statusRequest{Email: email})
	if err != nil {
		return nil, &ProbeError{Code: CodeInternal, Message: "could not encode probe request", Details: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, &ProbeError{Code: CodeInternal, Message: "could not build probe request", Details: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, probeTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, probeTransportError(err)
	}

	var envelope statusEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &ProbeError{Code: CodeMalformedResponse, Message: "the status service returned an unreadable response", Details: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		perr := &ProbeError{Code: CodeRateLimited, Message: "too many checks, slow down"}
		// The service renders quota metadata as standard headers; the body
		// fields remain as a fallback for older deployments.
		perr.RetryAfter = headerInt(resp.Header, "Retry-After")
		perr.Remaining = headerInt(resp.Header, "RateLimit-Remaining")
		if envelope.Error != nil {
			if perr.RetryAfter == 0 {
				perr.RetryAfter = envelope.Error.RetryAfter
			}
			if perr.Remaining == 0 {
				perr.Remaining = envelope.Error.Remaining
			}
			if envelope.Error.Message != "" {
				perr.Message = envelope.Error.Message
			}
		}
		return nil, perr
	case resp.StatusCode >= 500:
		return nil, &ProbeError{Code: CodeServer, Message: "the status service is unavailable", Details: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		msg := "status check rejected"
		if envelope.Error != nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return nil, &ProbeError{Code: CodeValidation, Message: msg}
	}

	if envelope.Data == nil || envelope.Data.Status == "" {
		return nil, &ProbeError{Code: CodeMalformedResponse, Message: "the status service returned an empty classification"}
	}
	return envelope.Data, nil
}

func headerInt(h http.Header, name string) int {
	v, err := strconv.Atoi(h.Get(name))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func probeTransportError(err error) *ProbeError {
	if errors.Is(err, context.Canceled) {
		return &ProbeError{Code: CodeInternal, Message: "check cancelled", Details: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) {
		return &ProbeError{Code: CodeNetwork, Message: "could not reach the status service", Details: err}
	}
	return &ProbeError{Code: CodeNetwork, Message: "could not reach the status service", Details: err}
}
