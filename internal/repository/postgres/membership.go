package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/circlecast/internal/models"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

func (s *MembershipStore) Get(ctx context.Context, roomID, userID uuid.UUID) (*models.Membership, error) {
	// Hot path: called before every join, send, read and typing event.
	// The (room_id, user_id) primary key makes this a single index lookup.
	query := `
		SELECT room_id, user_id, role, status, created_at
		FROM room_members
		WHERE room_id = $1 AND user_id = $2`

	var m models.Membership
	err := s.pool.QueryRow(ctx, query, roomID, userID).Scan(
		&m.RoomID,
		&m.UserID,
		&m.Role,
		&m.Status,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

func (s *MembershipStore) ListAcceptedUserIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM room_members
		WHERE room_id = $1 AND status = 'accepted'
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan members: %w", err)
	}
	if ids == nil {
		ids = make([]uuid.UUID, 0)
	}
	return ids, nil
}
