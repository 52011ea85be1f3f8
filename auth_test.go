package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jwtSecret = []byte("test-jwt-secret")
	grantSecret = []byte("test-grant-secret")
	os.Exit(m.Run())
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := hashPassword("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", hash)
	require.True(t, comparePassword(hash, "s3cret"))
	require.False(t, comparePassword(hash, "wrong"))
}

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := createAccessToken(42, "admin")
	require.NoError(t, err)

	userID, role, err := parseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
	require.Equal(t, "admin", role)
}

func TestAccessTokenRejectsGarbage(t *testing.T) {
	_, _, err := parseAccessToken("not-a-jwt")
	require.Error(t, err)
}

func TestAccessGrantRoundTrip(t *testing.T) {
	grant, expiresAt, err := mintAccessGrant(7, "ai-writer", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	claims, err := verifyAccessGrant(grant)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.Equal(t, "ai-writer", claims.ModuleID)
	require.NotEmpty(t, claims.GrantID)
	require.Equal(t, expiresAt.Unix(), claims.ExpiresAt)
}

func TestAccessGrantExpired(t *testing.T) {
	grant, _, err := mintAccessGrant(7, "ai-writer", -time.Minute)
	require.NoError(t, err)

	_, err = verifyAccessGrant(grant)
	require.Error(t, err)
}

func TestAccessGrantRejectsLoginToken(t *testing.T) {
	// a login JWT must not pass as a module access grant
	token, err := createAccessToken(7, "user")
	require.NoError(t, err)

	_, err = verifyAccessGrant(token)
	require.Error(t, err)
}

func TestAccessGrantWrongSecret(t *testing.T) {
	grant, _, err := mintAccessGrant(7, "ai-writer", time.Minute)
	require.NoError(t, err)

	old := grantSecret
	grantSecret = []byte("rotated")
	defer func() { grantSecret = old }()

	_, err = verifyAccessGrant(grant)
	require.Error(t, err)
}

func TestGenTokenLengthAndUniqueness(t *testing.T) {
	a, err := genToken(32)
	require.NoError(t, err)
	b, err := genToken(32)
	require.NoError(t, err)
	require.Len(t, a, 64)
	require.NotEqual(t, a, b)
}
