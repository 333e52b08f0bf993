package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
)

type CollabStore struct {
	pool *pgxpool.Pool
}

func NewCollabStore(pool *pgxpool.Pool) *CollabStore {
	return &CollabStore{pool: pool}
}

const collabColumns = `id, from_room_id, to_room_id, requester_id, status, temp_room_id, created_at, updated_at`

func scanCollab(row pgx.Row) (*models.CollabRequest, error) {
	var c models.CollabRequest
	err := row.Scan(
		&c.ID,
		&c.FromRoomID,
		&c.ToRoomID,
		&c.RequesterID,
		&c.Status,
		&c.TempRoomID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CollabStore) Create(ctx context.Context, req models.CollabRequest) (*models.CollabRequest, error) {
	query := `
		INSERT INTO collab_requests (from_room_id, to_room_id, requester_id, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING ` + collabColumns

	c, err := scanCollab(s.pool.QueryRow(ctx, query, req.FromRoomID, req.ToRoomID, req.RequesterID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.CodeConflict, "pending collaboration request exists", err)
		}
		return nil, fmt.Errorf("insert collab request: %w", err)
	}
	return c, nil
}

func (s *CollabStore) GetByID(ctx context.Context, id uuid.UUID) (*models.CollabRequest, error) {
	c, err := scanCollab(s.pool.QueryRow(ctx, `SELECT `+collabColumns+` FROM collab_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get collab request: %w", err)
	}
	return c, nil
}

func (s *CollabStore) FindPending(ctx context.Context, fromRoomID, toRoomID uuid.UUID) (*models.CollabRequest, error) {
	query := `
		SELECT ` + collabColumns + `
		FROM collab_requests
		WHERE from_room_id = $1 AND to_room_id = $2 AND status = 'pending'`

	c, err := scanCollab(s.pool.QueryRow(ctx, query, fromRoomID, toRoomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending collab request: %w", err)
	}
	return c, nil
}

func (s *CollabStore) Accept(ctx context.Context, id uuid.UUID, room models.Room, memberIDs []uuid.UUID) (*models.CollabRequest, *models.Room, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin accept: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the request row so two admins accepting at once serialize here
	// and only one temporary room is created.
	current, err := scanCollab(tx.QueryRow(ctx,
		`SELECT `+collabColumns+` FROM collab_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("lock collab request: %w", err)
	}
	if current.Status != models.CollabPending {
		return current, nil, nil
	}

	created, err := scanRoom(tx.QueryRow(ctx, `
		INSERT INTO rooms (name, is_private, is_temporary, created_by, last_activity_at)
		VALUES ($1, $2, true, $3, now())
		RETURNING `+roomColumns,
		room.Name, room.IsPrivate, room.CreatedBy,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("insert temp room: %w", err)
	}

	// One statement for the whole member set; duplicates in memberIDs or
	// rows that already exist are absorbed by ON CONFLICT.
	_, err = tx.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, role, status)
		SELECT $1, u, CASE WHEN u = $3 THEN 'admin' ELSE 'member' END, 'accepted'
		FROM unnest($2::uuid[]) AS u
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		created.ID, memberIDs, room.CreatedBy,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert temp room members: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE rooms
		SET member_count = (SELECT count(*) FROM room_members WHERE room_id = $1 AND status = 'accepted')
		WHERE id = $1
		RETURNING member_count`,
		created.ID,
	).Scan(&created.MemberCount)
	if err != nil {
		return nil, nil, fmt.Errorf("update member count: %w", err)
	}

	accepted, err := scanCollab(tx.QueryRow(ctx, `
		UPDATE collab_requests
		SET status = 'accepted', temp_room_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+collabColumns,
		id, created.ID,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("mark collab accepted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit accept: %w", err)
	}
	return accepted, created, nil
}
