package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

var ErrNotFound = fmt.Errorf("user: %w", apperr.ErrNotFound)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	SetNotificationsOptOut(ctx context.Context, id uuid.UUID, optOut bool) error
}

type postgresRepository struct {
	db *db.Postgres
}

func NewRepository(pg *db.Postgres) Repository {
	return &postgresRepository{db: pg}
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, notifications_opt_out, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.NotificationsOptOut,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select user by id %s: %w", id, err)
	}

	return &u, nil
}

func (r *postgresRepository) SetNotificationsOptOut(ctx context.Context, id uuid.UUID, optOut bool) error {
	query := `
		UPDATE users
		SET notifications_opt_out = $2, updated_at = now()
		WHERE id = $1
	`

	cmdTag, err := r.db.Conn(ctx).Exec(ctx, query, id, optOut)
	if err != nil {
		return fmt.Errorf("repository: failed to update user %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
