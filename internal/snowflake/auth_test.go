package snowflake_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowbridge/internal/snowflake"
)

func writeTestKey(t *testing.T) (path string, key *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	path = filepath.Join(t.TempDir(), "rsa_key.p8")
	require.NoError(t, os.WriteFile(path, pemBytes, 0600))
	return path, key
}

func TestOAuthFileProvider(t *testing.T) {
	t.Run("reads_and_trims_token", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("sess-token\n"), 0600))

		token, tokenType, err := snowflake.NewOAuthFileProvider(path).Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "sess-token", token)
		assert.Equal(t, snowflake.TokenTypeOAuth, tokenType)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, _, err := snowflake.NewOAuthFileProvider("/nonexistent/token").Token(context.Background())
		require.Error(t, err)
	})

	t.Run("empty_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte(" \n"), 0600))
		_, _, err := snowflake.NewOAuthFileProvider(path).Token(context.Background())
		require.Error(t, err)
	})
}

func TestKeyPairProvider_SignsVerifiableJWT(t *testing.T) {
	path, key := writeTestKey(t)

	provider, err := snowflake.NewKeyPairProvider("myorg-acct", "agent_user", path, "")
	require.NoError(t, err)

	token, tokenType, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snowflake.TokenTypeKeyPair, tokenType)

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return key.Public(), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)

	assert.Equal(t, "MYORG-ACCT.AGENT_USER", claims.Subject)
	assert.True(t, strings.HasPrefix(claims.Issuer, "MYORG-ACCT.AGENT_USER.SHA256:"), "issuer %q", claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestKeyPairProvider_CachesToken(t *testing.T) {
	path, _ := writeTestKey(t)

	provider, err := snowflake.NewKeyPairProvider("acct", "user", path, "")
	require.NoError(t, err)

	first, _, err := provider.Token(context.Background())
	require.NoError(t, err)
	second, _, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestKeyPairProvider_RequiresSettings(t *testing.T) {
	_, err := snowflake.NewKeyPairProvider("", "user", "/path", "")
	require.Error(t, err)
}

func TestKeyPairProvider_RejectsNonPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsa_key.p8")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, err := snowflake.NewKeyPairProvider("acct", "user", path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PEM")
}
