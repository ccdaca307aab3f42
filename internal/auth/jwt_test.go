package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(7, "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, 7, claims.AgencyID)
	assert.Equal(t, "agency:7", claims.Subject)
}

func TestValidateJWT_Rejects(t *testing.T) {
	token, err := GenerateJWT(7, "secret", time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)

	expired, err := GenerateJWT(7, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired, "secret")
	assert.Error(t, err)

	noAgency, err := GenerateJWT(0, "secret", time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(noAgency, "secret")
	assert.Error(t, err)

	_, err = ValidateJWT("not-a-token", "secret")
	assert.Error(t, err)
}
