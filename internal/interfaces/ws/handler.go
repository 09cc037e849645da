package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apppresence "github.com/orris-inc/roster/internal/application/presence"
	"github.com/orris-inc/roster/internal/infrastructure/auth"
	"github.com/orris-inc/roster/internal/infrastructure/pubsub"
	"github.com/orris-inc/roster/internal/shared/logger"
	"github.com/orris-inc/roster/internal/shared/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured in production
	},
}

// Handler upgrades authenticated clients to presence WebSocket sessions.
type Handler struct {
	registry          *apppresence.Registry
	authenticator     auth.Authenticator
	events            pubsub.Subscriber
	heartbeatInterval time.Duration
	logger            logger.Interface
}

// NewHandler creates a new WebSocket handler. events may be nil to disable
// membership event relay.
func NewHandler(
	registry *apppresence.Registry,
	authenticator auth.Authenticator,
	events pubsub.Subscriber,
	heartbeatInterval time.Duration,
	logger logger.Interface,
) *Handler {
	return &Handler{
		registry:          registry,
		authenticator:     authenticator,
		events:            events,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

// Serve handles WebSocket connections from presence clients.
// GET /presence/ws
func (h *Handler) Serve(c *gin.Context) {
	identity, err := h.authenticator.Authenticate(c.Request)
	if err != nil {
		h.logger.Debugw("presence websocket rejected, authentication failed",
			"ip", c.ClientIP(),
			"error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	scopeID := c.Query("scope_id")
	if h.registry.ScopingEnabled() && scopeID == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "scope_id is required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("failed to upgrade to websocket",
			"subject_id", identity.SubjectID,
			"ip", c.ClientIP(),
			"error", err)
		return
	}

	h.logger.Infow("presence websocket connected",
		"subject_id", identity.SubjectID,
		"session_id", identity.SessionID,
		"scope_id", scopeID,
		"ip", c.ClientIP())

	connection := NewConnection(
		conn,
		h.registry,
		h.events,
		identity.SubjectID,
		identity.SessionID,
		scopeID,
		h.heartbeatInterval,
		h.logger,
	)
	connection.Run(c.Request.Context())
}
