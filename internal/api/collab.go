package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/middleware"
	"github.com/lalith-99/circlecast/internal/models"
	"go.uber.org/zap"
)

type Collabs interface {
	CreateCollabRequest(ctx context.Context, requesterID, fromRoomID, toRoomID uuid.UUID) (*models.CollabRequest, error)
	AcceptCollabRequest(ctx context.Context, actorID, requestID uuid.UUID) (*models.CollabRequest, error)
}

type CollabHandler struct {
	collabs Collabs
	logger  *zap.Logger
}

func NewCollabHandler(collabs Collabs, logger *zap.Logger) *CollabHandler {
	return &CollabHandler{collabs: collabs, logger: logger}
}

type createCollabRequest struct {
	FromRoomID uuid.UUID `json:"from_room_id" binding:"required"`
	ToRoomID   uuid.UUID `json:"to_room_id" binding:"required"`
}

// Create handles POST /v1/collab-requests. A duplicate of a pending request
// returns the existing one.
func (h *CollabHandler) Create(c *gin.Context) {
	var req createCollabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cr, err := h.collabs.CreateCollabRequest(c.Request.Context(), middleware.GetUserID(c), req.FromRoomID, req.ToRoomID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, cr)
}

// Accept handles POST /v1/collab-requests/:id/accept
func (h *CollabHandler) Accept(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid collaboration request ID")
		return
	}

	cr, err := h.collabs.AcceptCollabRequest(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}
