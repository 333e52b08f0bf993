package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/circlecast/internal/models"
)

type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

const roomColumns = `id, name, is_private, is_temporary, created_by, member_count, last_activity_at, created_at`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.IsPrivate,
		&r.IsTemporary,
		&r.CreatedBy,
		&r.MemberCount,
		&r.LastActivityAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RoomStore) GetByID(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	r, err := scanRoom(s.pool.QueryRow(ctx, query, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

func (s *RoomStore) TouchActivity(ctx context.Context, roomID uuid.UUID, at time.Time) error {
	// GREATEST keeps the column monotonic when two instances race with
	// slightly skewed clocks.
	query := `
		UPDATE rooms
		SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, roomID, at); err != nil {
		return fmt.Errorf("touch room activity: %w", err)
	}
	return nil
}
