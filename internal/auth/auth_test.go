package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	m := NewManager("test-secret", "fable-relay-test")

	token, err := m.Mint("user-1", time.Hour)
	require.NoError(t, err)

	userID, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestVerifyExpired(t *testing.T) {
	m := NewManager("test-secret", "fable-relay-test")

	token, err := m.Mint("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", "t").Mint("user-1", time.Hour)
	require.NoError(t, err)

	_, err = NewManager("secret-b", "t").Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tokenStr, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewManager("test-secret", "t").Verify(tokenStr)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresExpiry(t *testing.T) {
	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
		Subject: "user-1",
	})
	tokenStr, err := noExp.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewManager("test-secret", "t").Verify(tokenStr)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresSubject(t *testing.T) {
	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tokenStr, err := noSub.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewManager("test-secret", "t").Verify(tokenStr)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := NewManager("test-secret", "t").Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
