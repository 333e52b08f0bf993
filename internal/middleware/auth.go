package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/auth"
)

// Context keys for values the middleware stores on gin.Context.
const (
	ContextKeyUserID   = "user_id"
	ContextKeyIdentity = "identity"
)

// TokenQueryParam carries the credential on websocket upgrades, where
// browsers cannot set an Authorization header.
const TokenQueryParam = "token"

// Credential extracts the bearer token from the Authorization header,
// falling back to the token query parameter. A malformed header is an
// error even when the query parameter is set.
func Credential(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return c.Query(TokenQueryParam), nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperr.Unauthenticated("invalid authorization format, expected: Bearer <token>")
	}
	return parts[1], nil
}

// AuthMiddleware rejects requests without a verifiable credential with 401.
// On success the Identity is stored on the context for handlers and the
// websocket upgrade.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := Credential(c)
		if err == nil {
			var id *auth.Identity
			id, err = verifier.Verify(token)
			if err == nil {
				c.Set(ContextKeyUserID, id.UserID)
				c.Set(ContextKeyIdentity, *id)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": apperr.Message(err),
		})
	}
}

// GetUserID returns uuid.Nil when the middleware did not run.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	val, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return auth.Identity{}, false
	}
	id, ok := val.(auth.Identity)
	return id, ok
}
