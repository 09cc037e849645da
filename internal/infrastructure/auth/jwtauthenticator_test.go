package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(subject, sessionID string) Claims {
	return Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestJWTAuthenticator_BearerHeader(t *testing.T) {
	authenticator := NewJWTAuthenticator(testSecret)

	req := httptest.NewRequest("GET", "/presence/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("user-1", "sess-1")))

	identity, err := authenticator.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.SubjectID)
	assert.Equal(t, "sess-1", identity.SessionID)
}

func TestJWTAuthenticator_QueryParam(t *testing.T) {
	authenticator := NewJWTAuthenticator(testSecret)

	token := signToken(t, testSecret, validClaims("user-1", "sess-1"))
	req := httptest.NewRequest("GET", "/presence/ws?token="+token, nil)

	identity, err := authenticator.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.SubjectID)
}

func TestJWTAuthenticator_MintsSessionIDWhenAbsent(t *testing.T) {
	authenticator := NewJWTAuthenticator(testSecret)

	req := httptest.NewRequest("GET", "/presence/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("user-1", "")))

	identity, err := authenticator.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(identity.SessionID, "ps_"))
}

func TestJWTAuthenticator_Rejections(t *testing.T) {
	authenticator := NewJWTAuthenticator(testSecret)

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/presence/ws", nil)
		_, err := authenticator.Authenticate(req)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/presence/ws", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", validClaims("user-1", "sess-1")))
		_, err := authenticator.Authenticate(req)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims("user-1", "sess-1")
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		req := httptest.NewRequest("GET", "/presence/ws", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
		_, err := authenticator.Authenticate(req)
		assert.Error(t, err)
	})

	t.Run("no subject claim", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/presence/ws", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("", "sess-1")))
		_, err := authenticator.Authenticate(req)
		assert.Error(t, err)
	})
}
