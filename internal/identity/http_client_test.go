package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPConfig{
		BaseURL:   server.URL,
		APIKey:    "anon-key",
		JWTSecret: "super-secret",
	})
	require.NoError(t, err)
	return client
}

func TestSignUpConfirmationPending(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/signup", r.URL.Path)
		require.Equal(t, "anon-key", r.Header.Get("apikey"))

		// Confirmation required: user object only, no token.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "user-1",
			"email": "a@test.com",
		})
	}))

	result, err := client.SignUp(context.Background(), "A@Test.com ", "pw123456", nil)
	require.NoError(t, err)
	require.Nil(t, result.Session, "confirmation-pending sign-up must not carry a session")
	require.Equal(t, "user-1", result.User.ID)

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestSignInEstablishesSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.Equal(t, "password", r.URL.Query().Get("grant_type"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-abc",
			"refresh_token": "refresh-abc",
			"expires_in":    3600,
			"user":          map[string]any{"id": "user-1", "email": "a@test.com"},
		})
	}))

	session, err := client.SignIn(context.Background(), "a@test.com", "pw123456")
	require.NoError(t, err)
	require.Equal(t, "token-abc", session.AccessToken)
	require.Equal(t, "user-1", session.UserID)

	held, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, held)
	require.Equal(t, "token-abc", held.AccessToken)
}

func TestSignInEmailNotConfirmed(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "Email not confirmed",
		})
	}))

	_, err := client.SignIn(context.Background(), "a@test.com", "pw123456")
	require.ErrorIs(t, err, ErrEmailNotConfirmed)

	session, getErr := client.GetSession(context.Background())
	require.NoError(t, getErr)
	require.Nil(t, session, "failed sign-in must not store a session")
}

func TestGetSessionExpires(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-abc",
			"expires_in":   60,
			"user":         map[string]any{"id": "user-1"},
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPConfig{
		BaseURL: server.URL,
		Now:     func() time.Time { return current },
	})
	require.NoError(t, err)

	_, err = client.SignIn(context.Background(), "a@test.com", "pw")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session, "expired session must read as absent")
}

func TestAdminEndpointsUseServiceRoleToken(t *testing.T) {
	var deleted bool
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		require.True(t, strings.HasPrefix(auth, "Bearer "))

		parsed, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(*jwt.Token) (any, error) {
			return []byte("super-secret"), nil
		})
		require.NoError(t, err)
		claims := parsed.Claims.(jwt.MapClaims)
		require.Equal(t, "service_role", claims["role"])

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/users/user-1":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "user-1", "email": "a@test.com"})
		case r.Method == http.MethodDelete && r.URL.Path == "/admin/users/user-1":
			deleted = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	user, err := client.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "a@test.com", user.Email)
	require.Nil(t, user.EmailConfirmedAt)

	require.NoError(t, client.DeleteUser(context.Background(), "user-1"))
	require.True(t, deleted)
}

func TestGetUserByEmailNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"users": []any{}})
	}))

	_, err := client.GetUserByEmail(context.Background(), "missing@test.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}
