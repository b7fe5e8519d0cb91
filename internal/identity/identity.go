package identity

import (
	"context"
	"time"
)

// Session represents an authenticated bearer session at the identity provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

// User mirrors the provider's view of an identity. EmailConfirmedAt is nil
// until the user confirms their address.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	LastSignInAt     *time.Time `json:"last_sign_in_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SignUpResult is returned from SignUp. Session is nil when the provider
// requires email confirmation before issuing a session; callers must treat
// that as the expected outcome, not a failure.
type SignUpResult struct {
	User    User
	Session *Session
}

// Client is the capability interface the registration core depends on.
// Any conforming identity service satisfies it.
type Client interface {
	// SignUp registers a new identity. A nil Session in the result means
	// email confirmation is pending.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)

	// SignIn authenticates with password credentials. It fails with
	// ErrEmailNotConfirmed (wrapped in a ProviderError) when the address has
	// not been confirmed yet.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// GetSession returns the currently established session, or nil when none
	// exists. A nil session is not an error.
	GetSession(ctx context.Context) (*Session, error)

	// CurrentUser fetches the identity behind the established session. It
	// fails with ErrSessionMissing when no session is held; callers must
	// treat that as expected-and-retryable, never fatal.
	CurrentUser(ctx context.Context) (*User, error)

	// ResendVerification asks the provider to send a fresh confirmation email.
	ResendVerification(ctx context.Context, email string) error

	// GetUser looks up an identity by ID using admin credentials.
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetUserByEmail looks up an identity by address using admin credentials.
	// Returns ErrUserNotFound when no identity exists.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// DeleteUser removes an identity using admin credentials. Destructive;
	// only the cleanup exchange may call it.
	DeleteUser(ctx context.Context, userID string) error
}
