package identity

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmailNotConfirmed(t *testing.T) {
	err := normalizeError(http.StatusBadRequest, "", "Email not confirmed", nil)
	require.ErrorIs(t, err, ErrEmailNotConfirmed)
	require.Equal(t, KindHTTP, err.Kind)
	require.True(t, err.Retryable())

	byCode := normalizeError(http.StatusUnprocessableEntity, "email_not_confirmed", "try later", nil)
	require.ErrorIs(t, byCode, ErrEmailNotConfirmed)
}

func TestNormalizeSessionMissing(t *testing.T) {
	err := normalizeError(http.StatusUnauthorized, "", "Auth session missing!", nil)
	require.ErrorIs(t, err, ErrSessionMissing)
	require.False(t, err.Retryable())
}

func TestNormalizeNetwork(t *testing.T) {
	err := normalizeError(0, "", "", context.DeadlineExceeded)
	require.Equal(t, KindNetwork, err.Kind)
	require.True(t, err.Retryable())
}

func TestNormalizeRelay(t *testing.T) {
	err := normalizeError(http.StatusBadGateway, "", "upstream broke", nil)
	require.Equal(t, KindRelay, err.Kind)
}

func TestNormalizeNotFound(t *testing.T) {
	err := normalizeError(http.StatusNotFound, "", "no such user", nil)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestNormalizeServerError(t *testing.T) {
	err := normalizeError(http.StatusInternalServerError, "", "boom", nil)
	require.Equal(t, KindHTTP, err.Kind)
	require.True(t, err.Retryable())
	require.False(t, errors.Is(err, ErrEmailNotConfirmed))
}

func TestNormalizePassesThroughProviderError(t *testing.T) {
	original := &ProviderError{Kind: KindRelay, Message: "already normalized"}
	err := normalizeError(0, "", "", original)
	require.Same(t, original, err)
}
