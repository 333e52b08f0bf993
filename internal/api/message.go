package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/chat"
	"github.com/lalith-99/circlecast/internal/middleware"
	"github.com/lalith-99/circlecast/internal/models"
	"go.uber.org/zap"
)

// Rooms is the chat service surface behind the room routes.
type Rooms interface {
	SendMessage(ctx context.Context, senderID, roomID uuid.UUID, body string, msgType models.MessageType) (*models.Message, error)
	FetchMessages(ctx context.Context, userID, roomID uuid.UUID, before int64, limit int) ([]models.Message, error)
	EditMessage(ctx context.Context, userID, roomID uuid.UUID, messageID int64, body string) (*models.Message, error)
	DeleteMessage(ctx context.Context, userID, roomID uuid.UUID, messageID int64) error
	MarkRead(ctx context.Context, userID, roomID uuid.UUID) (*chat.ReadPayload, error)
	Typing(ctx context.Context, userID, roomID uuid.UUID, userName string) error
	StopTyping(ctx context.Context, userID, roomID uuid.UUID) error
}

type MessageHandler struct {
	rooms  Rooms
	logger *zap.Logger
}

func NewMessageHandler(rooms Rooms, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{rooms: rooms, logger: logger}
}

type createMessageRequest struct {
	Body string             `json:"body" binding:"required"`
	Type models.MessageType `json:"type"`
}

type editMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

type typingRequest struct {
	UserName string `json:"user_name"`
}

func roomParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid room ID")
		return uuid.Nil, false
	}
	return id, true
}

func messageParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid message ID")
		return 0, false
	}
	return id, true
}

// Create handles POST /v1/rooms/:id/messages
func (h *MessageHandler) Create(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, err := h.rooms.SendMessage(c.Request.Context(), middleware.GetUserID(c), roomID, req.Body, req.Type)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// List handles GET /v1/rooms/:id/messages?before=123&limit=50
//
// before is a message ID cursor; 0 or absent means the latest page. limit
// defaults to the configured page size and is capped by the service.
func (h *MessageHandler) List(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		var err error
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil || before < 0 {
			badRequest(c, "invalid 'before' parameter")
			return
		}
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			badRequest(c, "invalid 'limit' parameter")
			return
		}
	}

	msgs, err := h.rooms.FetchMessages(c.Request.Context(), middleware.GetUserID(c), roomID, before, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Edit handles PATCH /v1/rooms/:id/messages/:messageId
func (h *MessageHandler) Edit(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, err := h.rooms.EditMessage(c.Request.Context(), middleware.GetUserID(c), roomID, messageID, req.Body)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /v1/rooms/:id/messages/:messageId
func (h *MessageHandler) Delete(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	if err := h.rooms.DeleteMessage(c.Request.Context(), middleware.GetUserID(c), roomID, messageID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead handles POST /v1/rooms/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	ev, err := h.rooms.MarkRead(c.Request.Context(), middleware.GetUserID(c), roomID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// StartTyping handles POST /v1/rooms/:id/typing. The body is optional.
func (h *MessageHandler) StartTyping(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req typingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.UserName == "" {
		if id, ok := middleware.GetIdentity(c); ok {
			req.UserName = id.Name()
		}
	}

	if err := h.rooms.Typing(c.Request.Context(), middleware.GetUserID(c), roomID, req.UserName); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StopTyping handles DELETE /v1/rooms/:id/typing
func (h *MessageHandler) StopTyping(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	if err := h.rooms.StopTyping(c.Request.Context(), middleware.GetUserID(c), roomID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
