package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := GenerateAccessToken("u1", "a@x.io", "contentmanager", "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseAccessToken(tok, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "a@x.io", claims.Email)
	assert.Equal(t, "contentmanager", claims.Role)

	_, err = ParseAccessToken(tok, "other")
	assert.Error(t, err)
}

func TestExpiredAccessToken(t *testing.T) {
	tok, err := GenerateAccessToken("u1", "", "demo", "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken(tok, "s3cret")
	assert.Error(t, err)
}

func TestAPITokenRequiresID(t *testing.T) {
	tok, err := GenerateAPIToken("tok-1", "demo", "api", time.Now().Add(time.Hour))
	require.NoError(t, err)
	claims, err := ParseAPIToken(tok, "api")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", claims.ID)
	assert.Equal(t, "demo", claims.Role)

	session, err := GenerateAccessToken("u1", "", "demo", "api", time.Hour)
	require.NoError(t, err)
	_, err = ParseAPIToken(session, "api")
	assert.Error(t, err, "a session token is not an API token")
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter2", hash))
	assert.False(t, CheckPassword("hunter3", hash))
}
