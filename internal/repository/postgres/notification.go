package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
)

type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

const notificationColumns = `id, recipient_id, actor_id, type, title, body, link, count, is_read, is_hidden, created_at, updated_at`

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.ActorID,
		&n.Type,
		&n.Title,
		&n.Body,
		&n.Link,
		&n.Count,
		&n.IsRead,
		&n.IsHidden,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *NotificationStore) Create(ctx context.Context, n models.Notification) (*models.Notification, error) {
	if n.Count < 1 {
		n.Count = 1
	}
	query := `
		INSERT INTO notifications (recipient_id, actor_id, type, title, body, link, count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + notificationColumns

	created, err := scanNotification(s.pool.QueryRow(ctx, query,
		n.RecipientID, n.ActorID, n.Type, n.Title, n.Body, n.Link, n.Count,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.CodeConflict, "unread notification already exists", err)
		}
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return created, nil
}

func (s *NotificationStore) FindUnread(ctx context.Context, recipientID uuid.UUID, notifType models.NotificationType, link string) (*models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND type = $2 AND link = $3 AND NOT is_read
		ORDER BY updated_at DESC
		LIMIT 1`

	n, err := scanNotification(s.pool.QueryRow(ctx, query, recipientID, notifType, link))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find unread notification: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) Merge(ctx context.Context, id uuid.UUID, title, body string, count int, at time.Time) (*models.Notification, error) {
	// The NOT is_read guard means a record the user read between our
	// FindUnread and this UPDATE is left alone; the caller then creates.
	query := `
		UPDATE notifications
		SET title = $2, body = $3, count = $4, updated_at = $5
		WHERE id = $1 AND NOT is_read
		RETURNING ` + notificationColumns

	n, err := scanNotification(s.pool.QueryRow(ctx, query, id, title, body, count, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("merge notification: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) ListVisible(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND NOT is_hidden
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	list := make([]models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return list, nil
}

func (s *NotificationStore) MarkReadAndHide(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications
		SET is_read = true, is_hidden = true
		WHERE id = $1 AND NOT is_read`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
