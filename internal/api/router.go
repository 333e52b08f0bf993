package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/circlecast/internal/auth"
	"github.com/lalith-99/circlecast/internal/middleware"
	"github.com/lalith-99/circlecast/internal/repository"
	"go.uber.org/zap"
)

// Realtime is the websocket gateway.
type Realtime interface {
	ServeWS(w http.ResponseWriter, r *http.Request, id auth.Identity) error
	Sessions() int
}

// Deps is everything the router wires into handlers.
type Deps struct {
	Rooms         Rooms
	Collabs       Collabs
	Notifications Notifications
	Realtime      Realtime
	Users         repository.UserRepository
	Verifier      auth.Verifier

	// Health, when set, is pinged by /v1/health; a failure reports 503.
	Health func(ctx context.Context) error
}

// NewRouter builds the gin engine. /v1/health is public; every other route
// requires a credential, which on /v1/ws may come as ?token=.
func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/v1/health", healthHandler(deps))

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Verifier))

	v1.GET("/ws", wsHandler(deps.Realtime, logger))

	messages := NewMessageHandler(deps.Rooms, logger)
	v1.POST("/rooms/:id/messages", messages.Create)
	v1.GET("/rooms/:id/messages", messages.List)
	v1.PATCH("/rooms/:id/messages/:messageId", messages.Edit)
	v1.DELETE("/rooms/:id/messages/:messageId", messages.Delete)
	v1.POST("/rooms/:id/read", messages.MarkRead)
	v1.POST("/rooms/:id/typing", messages.StartTyping)
	v1.DELETE("/rooms/:id/typing", messages.StopTyping)

	notifications := NewNotificationHandler(deps.Notifications, logger)
	v1.GET("/notifications", notifications.List)
	v1.POST("/notifications/:id/read", notifications.MarkRead)

	v1.GET("/users/me", NewUserHandler(deps.Users, logger).GetMe)

	collabs := NewCollabHandler(deps.Collabs, logger)
	v1.POST("/collab-requests", collabs.Create)
	v1.POST("/collab-requests/:id/accept", collabs.Accept)

	return r
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if deps.Realtime != nil {
			body["connections"] = deps.Realtime.Sessions()
		}
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				body["status"] = "degraded"
				c.JSON(http.StatusServiceUnavailable, body)
				return
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// wsHandler handles GET /v1/ws. The auth middleware has already verified
// the credential, so an unauthenticated client never reaches the upgrade.
func wsHandler(rt Realtime, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credential"})
			return
		}
		// the upgrader has already written the HTTP error on failure
		if err := rt.ServeWS(c.Writer, c.Request, id); err != nil {
			logger.Debug("websocket upgrade failed", zap.Error(err))
		}
	}
}

// requestLogger logs one line per request through zap. Websocket sessions
// log once when they end.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
