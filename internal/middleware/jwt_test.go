package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	cfg := JWTConfig{Secret: "s3cret", Issuer: "pr-sentinel", ExpiresIn: time.Hour}

	token, err := GenerateJWT("u1", "alice@example.com", "pro", cfg)
	require.NoError(t, err)

	claims, err := validateJWT(token, cfg.Secret, cfg.Issuer)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "pro", claims.Plan)
}

func TestJWTRejections(t *testing.T) {
	cfg := JWTConfig{Secret: "s3cret", Issuer: "pr-sentinel", ExpiresIn: time.Hour}
	token, err := GenerateJWT("u1", "a@b.c", "free", cfg)
	require.NoError(t, err)

	_, err = validateJWT(token, "wrong-secret", cfg.Issuer)
	assert.Error(t, err)

	_, err = validateJWT(token, cfg.Secret, "someone-else")
	assert.Error(t, err)

	_, err = validateJWT(token+"x", cfg.Secret, cfg.Issuer)
	assert.Error(t, err)

	expired := JWTConfig{Secret: "s3cret", Issuer: "pr-sentinel", ExpiresIn: -time.Minute}
	stale, err := GenerateJWT("u1", "a@b.c", "free", expired)
	require.NoError(t, err)
	_, err = validateJWT(stale, cfg.Secret, cfg.Issuer)
	assert.Error(t, err)
}
