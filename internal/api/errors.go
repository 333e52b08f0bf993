package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/circlecast/internal/apperr"
	"go.uber.org/zap"
)

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodeNotAuthorized:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeInvalid:
		return http.StatusBadRequest
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": msg}. Only the client-safe message is sent;
// server-side failures are logged with their cause.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
