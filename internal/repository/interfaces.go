package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/models"
)

// Conventions shared by every repository:
//   - ctx first on every method; all of these touch the network.
//   - single-row reads return nil, nil when the row does not exist.
//   - list reads return an empty slice, never nil.
//   - unique-constraint violations come back as apperr Conflict.

// RoomRepository reads rooms and applies the side effects the core owns
// (last activity, member counts, temporary rooms).
type RoomRepository interface {
	GetByID(ctx context.Context, roomID uuid.UUID) (*models.Room, error)

	// TouchActivity bumps last_activity_at. Missing rooms are ignored.
	TouchActivity(ctx context.Context, roomID uuid.UUID, at time.Time) error
}

// MembershipRepository handles who belongs to which room.
type MembershipRepository interface {
	// Get returns the single membership row for (room, user).
	Get(ctx context.Context, roomID, userID uuid.UUID) (*models.Membership, error)

	// ListAcceptedUserIDs returns the user IDs with an accepted membership.
	ListAcceptedUserIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	// Create persists a message and returns it with ID and timestamps set.
	Create(ctx context.Context, roomID, senderID uuid.UUID, body string, msgType models.MessageType) (*models.Message, error)

	GetByID(ctx context.Context, messageID int64) (*models.Message, error)

	// ListByRoom returns messages newest first. before=0 means the latest
	// chunk; otherwise only messages with ID < before.
	ListByRoom(ctx context.Context, roomID uuid.UUID, before int64, limit int) ([]models.Message, error)

	UpdateBody(ctx context.Context, messageID int64, body string) (*models.Message, error)

	// Delete removes the message. Returns false if nothing was deleted.
	Delete(ctx context.Context, messageID int64) (bool, error)

	// MarkRoomRead adds a receipt from reader to every message in the room
	// not sent by reader. Existing receipts are kept, so repeated calls add
	// nothing. Returns the number of receipts inserted.
	MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID, at time.Time) (int64, error)
}

// NotificationRepository stores notices. The aggregation rules live in the
// notify package; this is storage only.
type NotificationRepository interface {
	// Create inserts n. Returns apperr Conflict if an unread new_message
	// record already exists for (recipient, link).
	Create(ctx context.Context, n models.Notification) (*models.Notification, error)

	// FindUnread returns the unread record for (recipient, type, link).
	FindUnread(ctx context.Context, recipientID uuid.UUID, notifType models.NotificationType, link string) (*models.Notification, error)

	// Merge rewrites title, body and count and bumps updated_at. Returns
	// nil, nil if the record was read in the meantime.
	Merge(ctx context.Context, id uuid.UUID, title, body string, count int, at time.Time) (*models.Notification, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)

	// ListVisible returns non-hidden records for recipient, most recently
	// updated first.
	ListVisible(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error)

	// MarkReadAndHide sets is_read and is_hidden. Returns false if the
	// record was already read.
	MarkReadAndHide(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserRepository handles user lookups.
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// IDsByUsernames maps lowercase usernames to IDs. Unknown usernames are
	// absent from the result.
	IDsByUsernames(ctx context.Context, usernames []string) (map[string]uuid.UUID, error)
}

// CollabRepository stores collaboration requests.
type CollabRepository interface {
	Create(ctx context.Context, req models.CollabRequest) (*models.CollabRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.CollabRequest, error)

	// FindPending returns the pending request between the two rooms, if any.
	FindPending(ctx context.Context, fromRoomID, toRoomID uuid.UUID) (*models.CollabRequest, error)

	// Accept flips a pending request to accepted, creates the temporary room
	// and inserts an accepted membership for every user, all in one
	// transaction. Existing (room, user) rows are left untouched and the
	// room's member count reflects the rows present afterwards. If the
	// request is no longer pending nothing changes and the returned room is
	// nil.
	Accept(ctx context.Context, id uuid.UUID, room models.Room, memberIDs []uuid.UUID) (*models.CollabRequest, *models.Room, error)
}
