package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultProvisionTimeout bounds the provisioning round trip. A hung call must
// resolve to failed, never hang the controller.
const defaultProvisionTimeout = 3 * time.Second

// ProvisionResult carries the identifiers returned by a successful provisioning call.
type ProvisionResult struct {
	CompanyID    string `json:"company_id"`
	AdminUUID    string `json:"admin_uuid"`
	MembershipID string `json:"membership_id"`
}

// Provisioner is the transactional server-side contract the controller drives.
type Provisioner interface {
	Provision(ctx context.Context, attemptID string, company CompanyPayload) (*ProvisionResult, error)
}

// HTTPProvisioner calls the registrar provisioning endpoint.
type HTTPProvisioner struct {
	endpoint  string
	authToken func() string
	http      *http.Client
}

// ProvisionerConfig configures HTTPProvisioner.
type ProvisionerConfig struct {
	// Endpoint is the full URL of the provisioning route.
	Endpoint string
	// AuthToken supplies the bearer token for the call; the provisioning
	// route requires an authenticated session.
	AuthToken func() string
	// Timeout defaults to 3s.
	Timeout time.Duration
	// HTTPClient overrides the transport, primarily for tests.
	HTTPClient *http.Client
}

// NewHTTPProvisioner validates the configuration and builds the client.
func NewHTTPProvisioner(cfg ProvisionerConfig) (*HTTPProvisioner, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("provisioner: endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProvisionTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPProvisioner{
		endpoint:  endpoint,
		authToken: cfg.AuthToken,
		http:      client,
	}, nil
}

type provisionRequest struct {
	AttemptID string         `json:"attempt_id"`
	Company   CompanyPayload `json:"company"`
}

type provisionEnvelope struct {
	Data  *ProvisionResult `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Provision posts the attempt to the server and decodes the envelope into the
// flow error taxonomy. The attempt ID rides on every call so the server can
// deduplicate retried submissions.
func (p *HTTPProvisioner) Provision(ctx context.Context, attemptID string, company CompanyPayload) (*ProvisionResult, error) {
	encoded, err := json.Marshal(provisionRequest{AttemptID: attemptID, Company: company})
	if err != nil {
		return nil, &FlowError{Code: CodeInternal, Message: "could not encode provisioning request", Details: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, &FlowError{Code: CodeInternal, Message: "could not build provisioning request", Details: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != nil {
		if token := p.authToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, &FlowError{Code: CodeNetwork, Message: "could not reach the registration service", Retryable: true, Details: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FlowError{Code: CodeNetwork, Message: "could not read provisioning response", Retryable: true, Details: err}
	}

	var envelope provisionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &FlowError{Code: CodeMalformedResponse, Message: "unexpected provisioning response", Details: err}
	}

	if envelope.Error != nil {
		return nil, flowErrorFromEnvelope(envelope.Error.Code, envelope.Error.Message, resp.StatusCode)
	}
	if envelope.Data == nil {
		return nil, &FlowError{Code: CodeMalformedResponse, Message: "provisioning response carried no data"}
	}

	return envelope.Data, nil
}

// flowErrorFromEnvelope discriminates on the error code, never the message.
func flowErrorFromEnvelope(code, message string, status int) *FlowError {
	switch code {
	case CodeConflict:
		return &FlowError{Code: CodeConflict, Message: message}
	case CodeValidation:
		return &FlowError{Code: CodeValidation, Message: message}
	case CodeRateLimited:
		return &FlowError{Code: CodeRateLimited, Message: message, Retryable: true}
	default:
		return &FlowError{
			Code:      CodeServer,
			Message:   "the registration service failed, please try again",
			Retryable: true,
			Details:   fmt.Errorf("status %d: %s: %s", status, code, message),
		}
	}
}
