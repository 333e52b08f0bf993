package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/middleware"
	"github.com/lalith-99/circlecast/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
//
// Clients call it after connecting to learn the username other members
// mention them by.
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, apperr.Internal("failed to get user", err))
		return
	}
	// a valid credential for a user the store does not know
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}
