package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orris-inc/roster/internal/shared/errors"
	"github.com/orris-inc/roster/internal/shared/id"
)

// Identity is the authenticated caller of a presence connection.
// SessionID distinguishes concurrent connections of the same subject; when
// the token carries none, a fresh one is minted per request.
type Identity struct {
	SubjectID string
	SessionID string
}

// Authenticator resolves the identity behind an incoming request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// Claims are the token claims presence connections carry. The standard
// subject claim identifies the subject; sid pins a stable session id across
// reconnects of the same tab.
type Claims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 bearer tokens. Browsers cannot set
// headers on websocket upgrades, so the token is also accepted as a
// query parameter.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates a new JWT-based authenticator.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Authenticate extracts and verifies the token from the Authorization
// header or the token query parameter.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return nil, errors.NewUnauthorizedError("missing authentication token")
	}

	claims, err := a.verify(tokenString)
	if err != nil {
		return nil, errors.NewUnauthorizedError("invalid authentication token")
	}

	subjectID := claims.Subject
	if subjectID == "" {
		return nil, errors.NewUnauthorizedError("token carries no subject")
	}

	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = id.MustGenerateWithPrefix(id.PrefixPresenceSession, 12)
	}

	return &Identity{SubjectID: subjectID, SessionID: sessionID}, nil
}

func (a *JWTAuthenticator) verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
