package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultRequestTimeout = 10 * time.Second
	adminTokenLifetime    = time.Hour
)

// HTTPConfig configures the HTTP identity provider client.
type HTTPConfig struct {
	// BaseURL is the root of the provider's auth API, e.g. https://auth.example.com.
	BaseURL string
	// APIKey is the public (anon) key sent on every request.
	APIKey string
	// JWTSecret signs short-lived service-role tokens for admin endpoints.
	JWTSecret string
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient overrides the transport, primarily for tests.
	HTTPClient *http.Client
	// Now injects a clock for tests.
	Now func() time.Time
}

// HTTPClient implements Client against a GoTrue-compatible REST surface.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	jwtSecret string
	http      *http.Client
	now       func() time.Time

	mu         sync.Mutex
	session    *Session
	adminToken string
	adminExp   time.Time
}

// NewHTTPClient validates the configuration and builds a client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("identity: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &HTTPClient{
		baseURL:   base,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		jwtSecret: cfg.JWTSecret,
		http:      httpClient,
		now:       now,
	}, nil
}

type providerErrorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b providerErrorBody) code() string {
	if b.ErrorCode != "" {
		return b.ErrorCode
	}
	return b.Error
}

func (b providerErrorBody) message() string {
	if b.Msg != "" {
		return b.Msg
	}
	if b.ErrorDescription != "" {
		return b.ErrorDescription
	}
	return b.Error
}

type sessionBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         *User  `json:"user"`
}

// SignUp registers a new identity. When the provider requires email
// confirmation it returns the user without a token; the nil session in the
// result is the expected confirmation-pending outcome.
func (c *HTTPClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	payload := map[string]any{
		"email":    strings.ToLower(strings.TrimSpace(email)),
		"password": password,
	}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}

	var body struct {
		sessionBody
		// Confirmation-pending responses inline the user fields instead.
		ID               string     `json:"id"`
		Email            string     `json:"email"`
		EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
		CreatedAt        time.Time  `json:"created_at"`
	}
	if err := c.do(ctx, http.MethodPost, "/signup", payload, "", &body); err != nil {
		return nil, err
	}

	result := &SignUpResult{}
	switch {
	case body.User != nil:
		result.User = *body.User
	default:
		result.User = User{
			ID:               body.ID,
			Email:            body.Email,
			EmailConfirmedAt: body.EmailConfirmedAt,
			CreatedAt:        body.CreatedAt,
		}
	}

	if body.AccessToken != "" {
		session := c.toSession(body.sessionBody, result.User.ID)
		c.storeSession(session)
		result.Session = session
	}

	return result, nil
}

// SignIn performs a password grant. An unconfirmed email fails with a
// ProviderError wrapping ErrEmailNotConfirmed.
func (c *HTTPClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	payload := map[string]any{
		"email":    strings.ToLower(strings.TrimSpace(email)),
		"password": password,
	}

	var body sessionBody
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", payload, "", &body); err != nil {
		return nil, err
	}

	userID := ""
	if body.User != nil {
		userID = body.User.ID
	}

	session := c.toSession(body, userID)
	c.storeSession(session)
	return session, nil
}

// GetSession returns the currently held session, or nil when none exists or
// the token has expired. A nil session is never an error.
func (c *HTTPClient) GetSession(_ context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, nil
	}
	if !c.session.ExpiresAt.IsZero() && c.now().After(c.session.ExpiresAt) {
		c.session = nil
		return nil, nil
	}

	cpy := *c.session
	return &cpy, nil
}

// CurrentUser fetches the identity behind the held session.
func (c *HTTPClient) CurrentUser(ctx context.Context) (*User, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &ProviderError{Kind: KindHTTP, Status: http.StatusUnauthorized, Message: "auth session missing", Err: ErrSessionMissing}
	}

	var user User
	if err := c.do(ctx, http.MethodGet, "/user", nil, session.AccessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ResendVerification asks the provider to dispatch a fresh confirmation email.
func (c *HTTPClient) ResendVerification(ctx context.Context, email string) error {
	payload := map[string]any{
		"type":  "signup",
		"email": strings.ToLower(strings.TrimSpace(email)),
	}
	return c.do(ctx, http.MethodPost, "/resend", payload, "", nil)
}

// GetUser fetches an identity by ID via the admin surface.
func (c *HTTPClient) GetUser(ctx context.Context, userID string) (*User, error) {
	token, err := c.serviceRoleToken()
	if err != nil {
		return nil, err
	}

	var user User
	if err := c.do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(userID), nil, token, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail fetches an identity by address via the admin surface.
func (c *HTTPClient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	token, err := c.serviceRoleToken()
	if err != nil {
		return nil, err
	}

	normalized := strings.ToLower(strings.TrimSpace(email))

	var body struct {
		Users []User `json:"users"`
	}
	path := "/admin/users?email=" + url.QueryEscape(normalized)
	if err := c.do(ctx, http.MethodGet, path, nil, token, &body); err != nil {
		return nil, err
	}

	for i := range body.Users {
		if strings.EqualFold(body.Users[i].Email, normalized) {
			return &body.Users[i], nil
		}
	}

	return nil, &ProviderError{Kind: KindHTTP, Status: http.StatusNotFound, Message: "user not found", Err: ErrUserNotFound}
}

// DeleteUser removes an identity via the admin surface.
func (c *HTTPClient) DeleteUser(ctx context.Context, userID string) error {
	token, err := c.serviceRoleToken()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil, token, nil)
}

func (c *HTTPClient) toSession(body sessionBody, userID string) *Session {
	expires := time.Time{}
	if body.ExpiresIn > 0 {
		expires = c.now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	tokenType := body.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &Session{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expires,
		UserID:       userID,
	}
}

func (c *HTTPClient) storeSession(session *Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// serviceRoleToken mints (and caches) a short-lived HS256 token carrying the
// service_role claim expected by the admin endpoints.
func (c *HTTPClient) serviceRoleToken() (string, error) {
	if c.jwtSecret == "" {
		return "", &ProviderError{Kind: KindUnknown, Message: "admin credentials not configured"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.adminToken != "" && now.Before(c.adminExp.Add(-time.Minute)) {
		return c.adminToken, nil
	}

	exp := now.Add(adminTokenLifetime)
	claims := jwt.MapClaims{
		"role": "service_role",
		"iss":  "registrar",
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("identity: sign service role token: %w", err)
	}

	c.adminToken = token
	c.adminExp = exp
	return token, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any, bearer string, out any) error {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("identity: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("identity: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return normalizeError(0, "", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return normalizeError(0, "", "", err)
	}

	if resp.StatusCode >= 400 {
		var errBody providerErrorBody
		_ = json.Unmarshal(raw, &errBody)
		return normalizeError(resp.StatusCode, errBody.code(), errBody.message(), nil)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Kind: KindRelay, Status: resp.StatusCode, Message: "malformed provider response", Err: err}
	}
	return nil
}
