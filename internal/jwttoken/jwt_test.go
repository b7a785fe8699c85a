package jwttoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "fitgate/pkg/domainerrors"
)

var jwtService = NewService(
	"test-signing-key",
	"test-issuer",
	"test-audience",
)
var userID = "user-42"
var expiresIn = time.Hour

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(userID, expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(userID, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewService("other-key", "test-issuer", "test-audience")
	token, err := other.GenerateAccessToken(userID, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}

func Test_Validate_ResolverPort(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(userID, expiresIn)
	require.NoError(t, err)

	got, err := jwtService.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}
