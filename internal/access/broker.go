// Package access makes the single room-authorization decision every other
// component relies on.
package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/repository"
)

// Decision is the outcome of a successful authorization.
type Decision struct {
	Room *models.Room
	Role models.Role
	// ViaCreator is true when access came from the creator fallback rather
	// than an accepted membership row.
	ViaCreator bool
}

// Broker gates room access on the persisted membership record.
//
// It holds no state and caches nothing: membership can change between two
// calls, so each join, send, read and typing event asks again.
type Broker struct {
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
}

func NewBroker(rooms repository.RoomRepository, memberships repository.MembershipRepository) *Broker {
	return &Broker{rooms: rooms, memberships: memberships}
}

// Authorize allows userID into roomID when the user has an accepted
// membership or created the room.
//
// Errors: apperr.ErrRoomNotFound when the room does not exist,
// apperr.ErrRoomAccessDenied when it exists but the user may not use it,
// and a plain wrapped error when a store call fails.
func (b *Broker) Authorize(ctx context.Context, userID, roomID uuid.UUID) (*Decision, error) {
	room, err := b.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if room == nil {
		return nil, apperr.ErrRoomNotFound
	}

	m, err := b.memberships.Get(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if m != nil && m.Status == models.StatusAccepted {
		return &Decision{Room: room, Role: m.Role}, nil
	}

	if room.CreatedBy == userID {
		return &Decision{Room: room, Role: models.RoleAdmin, ViaCreator: true}, nil
	}

	return nil, apperr.ErrRoomAccessDenied
}

// Room loads a room without an access decision, for flows that target a
// room the caller is not a member of yet.
func (b *Broker) Room(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := b.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return nil, apperr.ErrRoomNotFound
	}
	return room, nil
}

// AuthorizeAdmin is Authorize plus an admin role check.
func (b *Broker) AuthorizeAdmin(ctx context.Context, userID, roomID uuid.UUID) (*Decision, error) {
	d, err := b.Authorize(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if d.Role != models.RoleAdmin {
		return nil, apperr.ErrNotRoomAdmin
	}
	return d, nil
}

// Members returns the accepted member IDs of roomID, with the creator added
// when not back-filled into the membership table.
func (b *Broker) Members(ctx context.Context, room *models.Room) ([]uuid.UUID, error) {
	ids, err := b.memberships.ListAcceptedUserIDs(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	for _, id := range ids {
		if id == room.CreatedBy {
			return ids, nil
		}
	}
	if room.CreatedBy != uuid.Nil {
		ids = append(ids, room.CreatedBy)
	}
	return ids, nil
}
