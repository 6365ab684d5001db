package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
)

const testSecret = "test_secret_key_for_auth_tests_1234567890"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("wrong horse", hash))
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(42, testSecret, time.Minute)
	require.NoError(t, err)

	userID, err := ValidateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestValidateJWTFailures(t *testing.T) {
	expired, err := GenerateJWT(1, testSecret, -time.Minute)
	require.NoError(t, err)
	otherSecret, err := GenerateJWT(1, "another-secret", time.Minute)
	require.NoError(t, err)
	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"userID": 1, "iss": tokenIssuer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{"malformed", "not-a-token", ErrTokenMalformed},
		{"expired", expired, ErrTokenExpired},
		{"wrong secret", otherSecret, ErrTokenInvalid},
		{"none algorithm", noneToken, ErrUnexpectedSigningMethod},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateJWT(tc.token, testSecret)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, errors.Is(err, core.ErrUnauthenticated))
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, prefix, hash, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
	assert.True(t, strings.HasPrefix(key, prefix))
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashAPIKey(key))
	assert.NotContains(t, hash, key)

	other, _, _, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	keyCaller := &Principal{APIKey: &domain.APIKey{ID: 7}}
	ctx := WithPrincipal(context.Background(), keyCaller)
	got, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.KeyID())
	assert.False(t, got.IsInternalSession())

	admin := &Principal{AdminUserID: 3}
	assert.True(t, admin.IsInternalSession())
	assert.Equal(t, int64(0), admin.KeyID())
}
