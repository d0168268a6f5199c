package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsproxy/dsproxy/internal/apperr"
)

func TestMintAndVerify(t *testing.T) {
	svc := NewService("test-secret", time.Minute)

	token, err := svc.Mint("alice")
	require.NoError(t, err)

	sub, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewService("test-secret", -time.Minute)

	token, err := svc.Mint("alice")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Minute).Mint("alice")
	require.NoError(t, err)

	_, err = NewService("secret-b", time.Minute).Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	// alg=none with the signature stripped must not pass.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewService("test-secret", time.Minute).Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRequiresSubject(t *testing.T) {
	svc := NewService("test-secret", time.Minute)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.Error(t, err)
}
