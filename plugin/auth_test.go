package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerTokenRoundTrip(t *testing.T) {
	token, err := signBearerToken("shared-secret", "peer.t.server")
	require.NoError(t, err)
	require.True(t, verifyBearerToken(token, "shared-secret"))
}

func TestBearerTokenRejectsWrongSecret(t *testing.T) {
	token, err := signBearerToken("shared-secret", "peer.t.server")
	require.NoError(t, err)
	require.False(t, verifyBearerToken(token, "other-secret"))
}

func TestBearerTokenRejectsGarbage(t *testing.T) {
	require.False(t, verifyBearerToken("not-a-jwt", "shared-secret"))
	require.False(t, verifyBearerToken("", "shared-secret"))
}
