package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/orris-inc/roster/internal/infrastructure/auth"
	"github.com/orris-inc/roster/internal/shared/constants"
	"github.com/orris-inc/roster/internal/shared/logger"
	"github.com/orris-inc/roster/internal/shared/utils"
)

// AuthMiddleware guards routes behind token authentication.
type AuthMiddleware struct {
	authenticator auth.Authenticator
	logger        logger.Interface
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(authenticator auth.Authenticator, logger logger.Interface) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
	}
}

// RequireAuth rejects requests without a valid token and stores the
// resolved identity on the request context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := m.authenticator.Authenticate(c.Request)
		if err != nil {
			m.logger.Debugw("request rejected, authentication failed",
				"path", c.Request.URL.Path,
				"error", err)
			utils.ErrorResponseWithError(c, err)
			c.Abort()
			return
		}

		c.Set(constants.ContextKeySubjectID, identity.SubjectID)
		c.Set(constants.ContextKeySessionID, identity.SessionID)
		c.Next()
	}
}
