package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/notify"
	"go.uber.org/zap"
)

// CreateCollabRequest asks toRoomID's admins to open a shared temporary
// room with fromRoomID. The requester must be allowed into fromRoomID. A
// second request while one is pending returns the pending one.
func (s *Service) CreateCollabRequest(ctx context.Context, requesterID, fromRoomID, toRoomID uuid.UUID) (*models.CollabRequest, error) {
	if fromRoomID == toRoomID {
		return nil, apperr.ErrCollabSameRoom
	}
	if _, err := s.broker.Authorize(ctx, requesterID, fromRoomID); err != nil {
		return nil, err
	}
	if _, err := s.broker.Room(ctx, toRoomID); err != nil {
		return nil, err
	}

	existing, err := s.collabs.FindPending(ctx, fromRoomID, toRoomID)
	if err != nil {
		return nil, apperr.Internal("failed to load collaboration request", err)
	}
	if existing != nil {
		return existing, nil
	}

	req, err := s.collabs.Create(ctx, models.CollabRequest{
		FromRoomID:  fromRoomID,
		ToRoomID:    toRoomID,
		RequesterID: requesterID,
	})
	if apperr.HasCode(err, apperr.CodeConflict) {
		// lost a race with an identical request
		existing, ferr := s.collabs.FindPending(ctx, fromRoomID, toRoomID)
		if ferr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, apperr.Internal("failed to create collaboration request", err)
	}
	return req, nil
}

// AcceptCollabRequest lets an admin (or the creator) of the target room
// accept. The temporary room and the union of both rooms' members are
// written in one transaction. Accepting an already accepted request returns
// it unchanged and creates nothing.
func (s *Service) AcceptCollabRequest(ctx context.Context, actorID, requestID uuid.UUID) (*models.CollabRequest, error) {
	req, err := s.collabs.GetByID(ctx, requestID)
	if err != nil {
		return nil, apperr.Internal("failed to load collaboration request", err)
	}
	if req == nil {
		return nil, apperr.ErrCollabRequestNotFound
	}

	d, err := s.broker.AuthorizeAdmin(ctx, actorID, req.ToRoomID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case models.CollabAccepted:
		return req, nil
	case models.CollabRejected:
		return nil, apperr.ErrCollabRequestClosed
	}

	from, err := s.broker.Room(ctx, req.FromRoomID)
	if err != nil {
		return nil, err
	}
	members, err := s.unionMembers(ctx, from, d.Room)
	if err != nil {
		return nil, apperr.Internal("failed to list members", err)
	}

	accepted, room, err := s.collabs.Accept(ctx, req.ID, models.Room{
		Name:      fmt.Sprintf("%s + %s", from.Name, d.Room.Name),
		IsPrivate: true,
		CreatedBy: actorID,
	}, members)
	if err != nil {
		return nil, apperr.Internal("failed to accept collaboration request", err)
	}
	if accepted == nil {
		return nil, apperr.ErrCollabRequestNotFound
	}
	if room == nil {
		// someone else accepted between our read and the transaction
		return accepted, nil
	}

	s.notifyCollab(ctx, actorID, room, members)
	return accepted, nil
}

func (s *Service) unionMembers(ctx context.Context, rooms ...*models.Room) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	out := make([]uuid.UUID, 0)
	for _, r := range rooms {
		ids, err := s.broker.Members(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (s *Service) notifyCollab(ctx context.Context, actorID uuid.UUID, room *models.Room, members []uuid.UUID) {
	link := RoomLink(room.ID)
	title := s.displayName(ctx, actorID) + " opened a shared circle"

	reqs := make([]notify.Request, 0, len(members))
	for _, id := range members {
		if id == actorID {
			continue
		}
		reqs = append(reqs, notify.Request{
			RecipientID: id,
			ActorID:     actorID,
			Type:        models.NotifyCollabAccepted,
			Title:       title,
			Body:        room.Name,
			Link:        &link,
		})
	}
	if err := s.dispatcher.Dispatch(ctx, reqs); err != nil {
		s.logger.Warn("failed to dispatch collaboration notifications",
			zap.Stringer("room_id", room.ID), zap.Error(err))
	}
}
