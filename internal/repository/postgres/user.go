package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/circlecast/internal/models"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, username, display_name, photo_url, created_at
		FROM users
		WHERE id = $1`

	var u models.User
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.PhotoURL,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// IDsByUsernames resolves mention handles in one round trip. Matching is
// case-insensitive, backed by the lower(username) unique index.
func (s *UserStore) IDsByUsernames(ctx context.Context, usernames []string) (map[string]uuid.UUID, error) {
	result := make(map[string]uuid.UUID, len(usernames))
	if len(usernames) == 0 {
		return result, nil
	}

	lowered := make([]string, len(usernames))
	for i, u := range usernames {
		lowered[i] = strings.ToLower(u)
	}

	query := `
		SELECT lower(username), id
		FROM users
		WHERE lower(username) = ANY($1)`

	rows, err := s.pool.Query(ctx, query, lowered)
	if err != nil {
		return nil, fmt.Errorf("lookup usernames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var id uuid.UUID
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		result[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usernames: %w", err)
	}
	return result, nil
}
