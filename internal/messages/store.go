// Package messages is the read-through, invalidate-on-write facade over the
// message store. It owns the latest-chunk caching policy:
//
//   - only the unscoped query (no cursor, default page size) is cached, under
//     messages:<roomId> with a fixed TTL;
//   - every append, edit, delete and read receipt invalidates the key before
//     returning;
//   - any cache failure falls back to a direct store read.
package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/cache"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/repository"
	"go.uber.org/zap"
)

// Key returns the cache key holding roomID's latest chunk.
func Key(roomID uuid.UUID) string {
	return "messages:" + roomID.String()
}

type Store struct {
	repo     repository.MessageRepository
	rooms    repository.RoomRepository
	cache    cache.Versioned
	ttl      time.Duration
	pageSize int
	logger   *zap.Logger
}

// NewStore wires the facade. pageSize is the only limit whose results are
// cached; rooms may be nil when last-activity bookkeeping is not wanted.
func NewStore(repo repository.MessageRepository, rooms repository.RoomRepository, c cache.Versioned, ttl time.Duration, pageSize int, logger *zap.Logger) *Store {
	if c == nil {
		c = cache.Nop{}
	}
	return &Store{
		repo:     repo,
		rooms:    rooms,
		cache:    c,
		ttl:      ttl,
		pageSize: pageSize,
		logger:   logger,
	}
}

// PageSize is the default (and cached) chunk size.
func (s *Store) PageSize() int { return s.pageSize }

// Append persists a message. A store failure is returned as is and nothing
// else happens; the caller must not fan out.
func (s *Store) Append(ctx context.Context, roomID, senderID uuid.UUID, body string, msgType models.MessageType) (*models.Message, error) {
	msg, err := s.repo.Create(ctx, roomID, senderID, body, msgType)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	s.invalidate(ctx, roomID)

	if s.rooms != nil {
		if err := s.rooms.TouchActivity(ctx, roomID, msg.CreatedAt); err != nil {
			s.logger.Warn("failed to bump room activity",
				zap.Stringer("room_id", roomID), zap.Error(err))
		}
	}
	return msg, nil
}

// Recent returns messages newest first. before=0 asks for the latest chunk.
func (s *Store) Recent(ctx context.Context, roomID uuid.UUID, limit int, before int64) ([]models.Message, error) {
	if before > 0 || limit != s.pageSize {
		return s.list(ctx, roomID, before, limit)
	}

	key := Key(roomID)
	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var msgs []models.Message
		if jerr := json.Unmarshal(raw, &msgs); jerr == nil {
			return msgs, nil
		}
		s.logger.Warn("discarding undecodable cached chunk", zap.String("key", key))
	case errors.Is(err, cache.ErrMiss):
	default:
		s.logger.Warn("message cache unavailable, reading store",
			zap.String("key", key), zap.Error(err))
		return s.list(ctx, roomID, 0, limit)
	}

	// Take the generation before reading the store so a write that lands
	// during the read makes the fill a no-op.
	version, err := s.cache.Version(ctx, key)
	if err != nil {
		s.logger.Warn("message cache unavailable, reading store",
			zap.String("key", key), zap.Error(err))
		return s.list(ctx, roomID, 0, limit)
	}

	msgs, err := s.list(ctx, roomID, 0, limit)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		s.logger.Error("failed to encode message chunk", zap.Error(err))
		return msgs, nil
	}
	if _, err := s.cache.SetIfVersion(ctx, key, version, data, s.ttl); err != nil {
		s.logger.Warn("failed to fill message cache", zap.String("key", key), zap.Error(err))
	}
	return msgs, nil
}

func (s *Store) list(ctx context.Context, roomID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	msgs, err := s.repo.ListByRoom(ctx, roomID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Get reads one message straight from the store.
func (s *Store) Get(ctx context.Context, messageID int64) (*models.Message, error) {
	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// Edit rewrites a message body. Returns nil, nil if the message is gone.
func (s *Store) Edit(ctx context.Context, roomID uuid.UUID, messageID int64, body string) (*models.Message, error) {
	msg, err := s.repo.UpdateBody(ctx, messageID, body)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	s.invalidate(ctx, roomID)
	return msg, nil
}

// Delete removes a message. Returns false if it was already gone.
func (s *Store) Delete(ctx context.Context, roomID uuid.UUID, messageID int64) (bool, error) {
	deleted, err := s.repo.Delete(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	s.invalidate(ctx, roomID)
	return deleted, nil
}

// MarkRead adds readerID's receipts to roomID. Existing receipts are kept,
// so calling it twice adds nothing the second time.
func (s *Store) MarkRead(ctx context.Context, roomID, readerID uuid.UUID, at time.Time) (int64, error) {
	n, err := s.repo.MarkRoomRead(ctx, roomID, readerID, at)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	s.invalidate(ctx, roomID)
	return n, nil
}

// Invalidate drops roomID's cached chunk.
func (s *Store) Invalidate(ctx context.Context, roomID uuid.UUID) error {
	return s.cache.Bump(ctx, Key(roomID))
}

// invalidate runs after a durable write, so it cannot fail the write. One
// retry, then log: the TTL bounds how long a missed invalidation can serve.
func (s *Store) invalidate(ctx context.Context, roomID uuid.UUID) {
	err := s.Invalidate(ctx, roomID)
	if err == nil {
		return
	}
	if err = s.Invalidate(ctx, roomID); err != nil {
		s.logger.Warn("failed to invalidate message cache",
			zap.Stringer("room_id", roomID), zap.Error(err))
	}
}
