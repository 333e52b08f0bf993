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

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// messageSelect returns messages with their receipts folded into a JSON
// array, oldest receipt first. pgx decodes the array straight into
// []models.ReadReceipt.
const messageSelect = `
	SELECT m.id, m.room_id, m.sender_id, m.body, m.type, m.created_at, m.updated_at,
		COALESCE(
			(SELECT json_agg(json_build_object('reader_id', r.reader_id, 'read_at', r.read_at) ORDER BY r.read_at)
			 FROM message_reads r WHERE r.message_id = m.id),
			'[]'::json
		) AS read_by
	FROM messages m`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.Body,
		&msg.Type,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.ReadBy,
	)
	if err != nil {
		return nil, err
	}
	if msg.ReadBy == nil {
		msg.ReadBy = make([]models.ReadReceipt, 0)
	}
	return &msg, nil
}

func (s *MessageStore) Create(ctx context.Context, roomID, senderID uuid.UUID, body string, msgType models.MessageType) (*models.Message, error) {
	query := `
		INSERT INTO messages (room_id, sender_id, body, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, room_id, sender_id, body, type, created_at, updated_at`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, roomID, senderID, body, msgType).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.Body,
		&msg.Type,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	msg.ReadBy = make([]models.ReadReceipt, 0)
	return &msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) ListByRoom(ctx context.Context, roomID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	// before=0 is the latest chunk; otherwise page backwards by ID.
	var query string
	var args []any

	if before > 0 {
		query = messageSelect + `
			WHERE m.room_id = $1 AND m.id < $2
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $3`
		args = []any{roomID, before, limit}
	} else {
		query = messageSelect + `
			WHERE m.room_id = $1
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2`
		args = []any{roomID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (s *MessageStore) UpdateBody(ctx context.Context, messageID int64, body string) (*models.Message, error) {
	query := `UPDATE messages SET body = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, messageID, body)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, messageID)
}

func (s *MessageStore) Delete(ctx context.Context, messageID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *MessageStore) MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID, at time.Time) (int64, error) {
	// ON CONFLICT DO NOTHING on the (message_id, reader_id) key makes the
	// whole call idempotent: a second mark-read inserts zero rows.
	query := `
		INSERT INTO message_reads (message_id, reader_id, read_at)
		SELECT m.id, $2, $3
		FROM messages m
		WHERE m.room_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, reader_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, roomID, readerID, at)
	if err != nil {
		return 0, fmt.Errorf("mark room read: %w", err)
	}
	return tag.RowsAffected(), nil
}
