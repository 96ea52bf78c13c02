package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackTokenRoundTrip(t *testing.T) {
	token, err := GenerateCallbackToken("media-1", "asset-2", time.Minute, "secret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := VerifyCallbackToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "media-1", claims.MediaUUID)
	assert.Equal(t, "asset-2", claims.AssetUUID)
}

func TestCallbackTokenWrongSecret(t *testing.T) {
	token, err := GenerateCallbackToken("media-1", "", time.Minute, "secret")
	require.NoError(t, err)

	_, err = VerifyCallbackToken(token, "other-secret")
	assert.EqualError(t, err, "invalid token signature")
}

func TestCallbackTokenExpired(t *testing.T) {
	token, err := GenerateCallbackToken("media-1", "", -time.Minute, "secret")
	require.NoError(t, err)

	_, err = VerifyCallbackToken(token, "secret")
	assert.EqualError(t, err, "token expired")
}

func TestCallbackTokenTampered(t *testing.T) {
	token, err := GenerateCallbackToken("media-1", "", time.Minute, "secret")
	require.NoError(t, err)

	parts := strings.SplitN(token, ".", 2)
	tampered := parts[0] + "x." + parts[1]
	_, err = VerifyCallbackToken(tampered, "secret")
	assert.Error(t, err)
}

func TestCallbackTokenMissingSecret(t *testing.T) {
	_, err := GenerateCallbackToken("media-1", "", time.Minute, "")
	assert.Error(t, err)

	_, err = VerifyCallbackToken("a.b", "")
	assert.Error(t, err)
}
