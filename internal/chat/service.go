// Package chat implements the room operations shared by the websocket
// gateway and the HTTP handlers: send, fetch, edit, delete, mark read,
// typing, and collaboration requests.
//
// Every operation authorizes first. A message write either fails with
// nothing published, or succeeds and then publishes best effort: a broken
// broker or notification queue is logged and never undoes the write.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/access"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/fanout"
	"github.com/lalith-99/circlecast/internal/mention"
	"github.com/lalith-99/circlecast/internal/messages"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/notify"
	"github.com/lalith-99/circlecast/internal/repository"
	"go.uber.org/zap"
)

const (
	MaxBodyRunes = 4000

	previewRunes = 120
	imagePreview = "Sent an image"
	unknownActor = "Someone"
)

// RoomLink is the deep link stored on room notifications. It is also the
// aggregation key for new_message notifications.
func RoomLink(roomID uuid.UUID) string {
	return "/circles/" + roomID.String()
}

type TypingPayload struct {
	RoomID   uuid.UUID `json:"roomId"`
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName,omitempty"`
}

type DeletedPayload struct {
	MessageID int64     `json:"messageId"`
	RoomID    uuid.UUID `json:"roomId"`
}

type ReadPayload struct {
	RoomID uuid.UUID `json:"roomId"`
	UserID uuid.UUID `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type Service struct {
	broker     *access.Broker
	messages   *messages.Store
	users      repository.UserRepository
	collabs    repository.CollabRepository
	bus        fanout.Publisher
	dispatcher notify.Dispatcher
	pageMax    int
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(
	broker *access.Broker,
	msgs *messages.Store,
	users repository.UserRepository,
	collabs repository.CollabRepository,
	bus fanout.Publisher,
	dispatcher notify.Dispatcher,
	pageMax int,
	logger *zap.Logger,
) *Service {
	return &Service{
		broker:     broker,
		messages:   msgs,
		users:      users,
		collabs:    collabs,
		bus:        bus,
		dispatcher: dispatcher,
		pageMax:    pageMax,
		logger:     logger,
		now:        time.Now,
	}
}

// Authorize exposes the room decision to callers that only need the gate
// (joining a room for presence).
func (s *Service) Authorize(ctx context.Context, userID, roomID uuid.UUID) (*access.Decision, error) {
	return s.broker.Authorize(ctx, userID, roomID)
}

func validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperr.ErrEmptyMessageBody
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return "", apperr.ErrMessageBodyTooLarge
	}
	return body, nil
}

// SendMessage appends a message and, once it is durable, publishes it to
// the room and hands one notification per other member to the dispatcher.
// If the append fails nothing is published and the error is returned.
func (s *Service) SendMessage(ctx context.Context, senderID, roomID uuid.UUID, body string, msgType models.MessageType) (*models.Message, error) {
	if msgType == "" {
		msgType = models.MessageText
	}
	if !msgType.Valid() {
		return nil, apperr.ErrInvalidMessageType
	}
	body, err := validateBody(body)
	if err != nil {
		return nil, err
	}

	d, err := s.broker.Authorize(ctx, senderID, roomID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.Append(ctx, roomID, senderID, body, msgType)
	if err != nil {
		s.logger.Error("failed to append message", zap.Stringer("room_id", roomID), zap.Error(err))
		return nil, apperr.Internal("failed to send message", err)
	}

	s.publish(ctx, fanout.RoomChannel(roomID), fanout.EventNewMessage, msg)
	s.notifyMembers(ctx, d.Room, msg)
	return msg, nil
}

// FetchMessages returns a page newest first. limit <= 0 means the default
// page size; larger limits are capped.
func (s *Service) FetchMessages(ctx context.Context, userID, roomID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	if _, err := s.broker.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.messages.PageSize()
	}
	if limit > s.pageMax {
		limit = s.pageMax
	}

	msgs, err := s.messages.Recent(ctx, roomID, limit, before)
	if err != nil {
		return nil, apperr.Internal("failed to load messages", err)
	}
	return msgs, nil
}

// ownMessage loads messageID and checks it belongs to roomID and was sent by
// userID.
func (s *Service) ownMessage(ctx context.Context, userID, roomID uuid.UUID, messageID int64) (*models.Message, error) {
	if _, err := s.broker.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, apperr.Internal("failed to load message", err)
	}
	if msg == nil || msg.RoomID != roomID {
		return nil, apperr.ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, apperr.ErrMessageNotSender
	}
	return msg, nil
}

func (s *Service) EditMessage(ctx context.Context, userID, roomID uuid.UUID, messageID int64, body string) (*models.Message, error) {
	body, err := validateBody(body)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownMessage(ctx, userID, roomID, messageID); err != nil {
		return nil, err
	}

	msg, err := s.messages.Edit(ctx, roomID, messageID, body)
	if err != nil {
		return nil, apperr.Internal("failed to edit message", err)
	}
	if msg == nil {
		return nil, apperr.ErrMessageNotFound
	}

	s.publish(ctx, fanout.RoomChannel(roomID), fanout.EventMessageUpdated, msg)
	return msg, nil
}

func (s *Service) DeleteMessage(ctx context.Context, userID, roomID uuid.UUID, messageID int64) error {
	if _, err := s.ownMessage(ctx, userID, roomID, messageID); err != nil {
		return err
	}

	deleted, err := s.messages.Delete(ctx, roomID, messageID)
	if err != nil {
		return apperr.Internal("failed to delete message", err)
	}
	if !deleted {
		return apperr.ErrMessageNotFound
	}

	s.publish(ctx, fanout.RoomChannel(roomID), fanout.EventMessageDeleted,
		DeletedPayload{MessageID: messageID, RoomID: roomID})
	return nil
}

// MarkRead records userID's receipts for every message in the room.
// Repeated calls add no duplicate receipts.
func (s *Service) MarkRead(ctx context.Context, userID, roomID uuid.UUID) (*ReadPayload, error) {
	if _, err := s.broker.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	if _, err := s.messages.MarkRead(ctx, roomID, userID, at); err != nil {
		return nil, apperr.Internal("failed to mark room read", err)
	}

	ev := &ReadPayload{RoomID: roomID, UserID: userID, ReadAt: at}
	s.publish(ctx, fanout.RoomChannel(roomID), fanout.EventMessagesRead, ev)
	return ev, nil
}

// Typing and StopTyping are transient: nothing is stored.
func (s *Service) Typing(ctx context.Context, userID, roomID uuid.UUID, userName string) error {
	if _, err := s.broker.Authorize(ctx, userID, roomID); err != nil {
		return err
	}
	s.publish(ctx, fanout.RoomChannel(roomID), fanout.EventTyping,
		TypingPayload{RoomID: roomID, UserID: userID, UserName: userName})
	return nil
}

func (s *Service) StopTyping(ctx context.Context, userID, roomID uuid.UUID) error {
	if _, err := s.broker.Authorize(ctx, userID, roomID); err != nil {
		return err
	}
	s.publish(ctx, fanout.RoomChannel(roomID), fanout.EventStopTyping,
		TypingPayload{RoomID: roomID, UserID: userID})
	return nil
}

func (s *Service) publish(ctx context.Context, channel, event string, data any) {
	if err := s.bus.Publish(ctx, channel, event, data); err != nil {
		s.logger.Error("fanout failed after write",
			zap.String("channel", channel), zap.String("event", event), zap.Error(err))
	}
}

// notifyMembers plans one notification per member other than the sender
// and dispatches them. Any failure here is logged: the message is already
// durable and members will see it on their next fetch.
func (s *Service) notifyMembers(ctx context.Context, room *models.Room, msg *models.Message) {
	reqs, err := s.planNotifications(ctx, room, msg)
	if err != nil {
		s.logger.Error("failed to plan notifications",
			zap.Int64("message_id", msg.ID), zap.Error(err))
		return
	}
	if err := s.dispatcher.Dispatch(ctx, reqs); err != nil {
		s.logger.Warn("failed to dispatch notifications",
			zap.Int64("message_id", msg.ID), zap.Int("count", len(reqs)), zap.Error(err))
	}
}

func (s *Service) planNotifications(ctx context.Context, room *models.Room, msg *models.Message) ([]notify.Request, error) {
	members, err := s.broker.Members(ctx, room)
	if err != nil {
		return nil, err
	}

	parsed := mention.Parse(msg.Body)
	var directory map[string]uuid.UUID
	if !parsed.Everyone && len(parsed.Handles) > 0 {
		directory, err = s.users.IDsByUsernames(ctx, parsed.Handles)
		if err != nil {
			return nil, fmt.Errorf("resolve mentions: %w", err)
		}
	}
	mentioned := mention.ResolveParsed(parsed, msg.SenderID, members, directory)

	return buildRequests(room, s.displayName(ctx, msg.SenderID), msg, members, mentioned), nil
}

func (s *Service) displayName(ctx context.Context, userID uuid.UUID) string {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load user", zap.Stringer("user_id", userID), zap.Error(err))
		return unknownActor
	}
	if u == nil {
		return unknownActor
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// buildRequests is pure: one request per member except the sender, mention
// type for mentioned members and new_message for the rest.
func buildRequests(room *models.Room, senderName string, msg *models.Message, members []uuid.UUID, mentioned mention.Set) []notify.Request {
	link := RoomLink(room.ID)
	body := Preview(msg)

	reqs := make([]notify.Request, 0, len(members))
	for _, id := range members {
		if id == msg.SenderID {
			continue
		}
		req := notify.Request{
			RecipientID: id,
			ActorID:     msg.SenderID,
			Type:        models.NotifyNewMessage,
			Title:       fmt.Sprintf("%s in %s", senderName, room.Name),
			Body:        body,
			Link:        &link,
		}
		if mentioned.Has(id) {
			req.Type = models.NotifyMention
			req.Title = senderName + " mentioned you"
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// Preview is the notification body for msg.
func Preview(msg *models.Message) string {
	if msg.Type == models.MessageImage {
		return imagePreview
	}
	body := strings.TrimSpace(msg.Body)
	if utf8.RuneCountInString(body) <= previewRunes {
		return body
	}
	r := []rune(body)
	return string(r[:previewRunes]) + "..."
}
