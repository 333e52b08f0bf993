package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/middleware"
	"github.com/lalith-99/circlecast/internal/models"
	"go.uber.org/zap"
)

// Notifications is the aggregator surface behind the notification routes.
type Notifications interface {
	List(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) error
}

type NotificationHandler struct {
	notifications Notifications
	logger        *zap.Logger
}

func NewNotificationHandler(n Notifications, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: n, logger: logger}
}

// List handles GET /v1/notifications?limit=50
//
// Read notifications are hidden, so this is the unread inbox ordered by
// most recent activity.
func (h *NotificationHandler) List(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			badRequest(c, "invalid 'limit' parameter")
			return
		}
	}

	list, err := h.notifications.List(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// MarkRead handles POST /v1/notifications/:id/read. Viewing a notification
// also dismisses it; repeating the call is not an error.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid notification ID")
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
