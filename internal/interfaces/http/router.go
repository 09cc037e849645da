// Package http wires the REST and WebSocket surface of the presence service.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apppresence "github.com/orris-inc/roster/internal/application/presence"
	"github.com/orris-inc/roster/internal/infrastructure/auth"
	"github.com/orris-inc/roster/internal/infrastructure/config"
	"github.com/orris-inc/roster/internal/infrastructure/pubsub"
	"github.com/orris-inc/roster/internal/interfaces/http/handlers"
	"github.com/orris-inc/roster/internal/interfaces/http/middleware"
	"github.com/orris-inc/roster/internal/interfaces/ws"
	"github.com/orris-inc/roster/internal/shared/logger"
	"github.com/orris-inc/roster/internal/shared/utils"
)

// Router represents the HTTP router configuration
type Router struct {
	engine          *gin.Engine
	presenceHandler *handlers.PresenceHandler
	wsHandler       *ws.Handler
	authMiddleware  *middleware.AuthMiddleware
	allowedOrigins  []string
	log             logger.Interface
}

// NewRouter creates a new HTTP router with all dependencies
func NewRouter(
	registry *apppresence.Registry,
	events pubsub.Subscriber,
	cfg *config.Config,
	log logger.Interface,
) *Router {
	engine := gin.New()

	authenticator := auth.NewJWTAuthenticator(cfg.Auth.JWT.Secret)

	presenceHandler := handlers.NewPresenceHandler(registry, log)
	wsHandler := ws.NewHandler(
		registry,
		authenticator,
		events,
		cfg.Presence.HeartbeatIntervalDuration(),
		log,
	)
	authMiddleware := middleware.NewAuthMiddleware(authenticator, log)

	return &Router{
		engine:          engine,
		presenceHandler: presenceHandler,
		wsHandler:       wsHandler,
		authMiddleware:  authMiddleware,
		allowedOrigins:  cfg.Server.AllowedOrigins,
		log:             log,
	}
}

// SetupRoutes configures all HTTP routes
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Logger(r.log))
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.CORS(r.allowedOrigins))

	r.engine.GET("/health", func(c *gin.Context) {
		utils.SuccessResponse(c, http.StatusOK, "", gin.H{"status": "ok"})
	})

	presence := r.engine.Group("/presence")
	{
		presence.GET("/ws", r.wsHandler.Serve)

		authed := presence.Group("")
		authed.Use(r.authMiddleware.RequireAuth())
		{
			authed.GET("/online", r.presenceHandler.GetOnlineSubjects)
			authed.GET("/subjects/:subject_id/sessions", r.presenceHandler.GetSubjectSessions)
			authed.GET("/sessions/:session_id", r.presenceHandler.GetSessionStatus)
			authed.POST("/sweep", r.presenceHandler.SweepNow)
		}
	}
}

// GetEngine returns the Gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
