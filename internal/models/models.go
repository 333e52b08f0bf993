package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the profile slice the realtime core needs: the username for
// mention lookup and display fields for presence.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Room is a circle: the unit of both persisted messages and presence.
//
// CreatedBy is kept because creators are not always back-filled into
// room_members when the room is created; authorization falls back to it.
type Room struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	IsPrivate      bool      `json:"is_private"`
	IsTemporary    bool      `json:"is_temporary"`
	CreatedBy      uuid.UUID `json:"created_by"`
	MemberCount    int       `json:"member_count"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type MembershipStatus string

const (
	StatusPending  MembershipStatus = "pending"
	StatusAccepted MembershipStatus = "accepted"
	StatusRejected MembershipStatus = "rejected"
)

// Membership is one row per (room, user).
type Membership struct {
	RoomID    uuid.UUID        `json:"room_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageSystem:
		return true
	}
	return false
}

// ReadReceipt records that ReaderID has seen a message. At most one per
// (message, reader).
type ReadReceipt struct {
	ReaderID uuid.UUID `json:"reader_id"`
	ReadAt   time.Time `json:"read_at"`
}

// Message is a single chat message in a room. IDs come from a bigserial so a
// higher ID is a newer message and doubles as the pagination cursor.
type Message struct {
	ID        int64         `json:"id"`
	RoomID    uuid.UUID     `json:"room_id"`
	SenderID  uuid.UUID     `json:"sender_id"`
	Body      string        `json:"body"`
	Type      MessageType   `json:"type"`
	ReadBy    []ReadReceipt `json:"read_by"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type NotificationType string

const (
	NotifyNewMessage     NotificationType = "new_message"
	NotifyMention        NotificationType = "mention"
	NotifyCollabAccepted NotificationType = "collab_accepted"
)

// Notification is a per-recipient notice.
//
// For new_message at most one unread record exists per (recipient, link);
// Count tracks how many events have been merged into it. UpdatedAt is the
// aggregation bump timestamp used for recency ordering.
type Notification struct {
	ID          uuid.UUID        `json:"id"`
	RecipientID uuid.UUID        `json:"recipient_id"`
	ActorID     uuid.UUID        `json:"actor_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Link        *string          `json:"link,omitempty"`
	Count       int              `json:"count"`
	IsRead      bool             `json:"is_read"`
	IsHidden    bool             `json:"is_hidden"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// PresenceMeta is what other room members see about an online user.
type PresenceMeta struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
}

type CollabStatus string

const (
	CollabPending  CollabStatus = "pending"
	CollabAccepted CollabStatus = "accepted"
	CollabRejected CollabStatus = "rejected"
)

// CollabRequest asks the admins of ToRoom to open a temporary shared room
// with FromRoom. Accepting it creates TempRoomID.
type CollabRequest struct {
	ID          uuid.UUID    `json:"id"`
	FromRoomID  uuid.UUID    `json:"from_room_id"`
	ToRoomID    uuid.UUID    `json:"to_room_id"`
	RequesterID uuid.UUID    `json:"requester_id"`
	Status      CollabStatus `json:"status"`
	TempRoomID  *uuid.UUID   `json:"temp_room_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
