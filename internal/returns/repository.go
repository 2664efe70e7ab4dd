package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

var (
	ErrReturnNotFound    = fmt.Errorf("return request: %w", apperr.ErrNotFound)
	ErrOpenReturnExists  = fmt.Errorf("order already has an open return request: %w", apperr.ErrConflict)
	ErrStateChanged      = fmt.Errorf("return request state changed concurrently: %w", apperr.ErrConflict)
	ErrInvalidTransition = fmt.Errorf("invalid return state transition: %w", apperr.ErrConflict)
)

const indexOneOpen = "return_requests_one_open_idx"

type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Request, error)
	// UpdateState reports false when the stored state is no longer from.
	UpdateState(ctx context.Context, id uuid.UUID, from, to State, c Changes, at time.Time) (bool, error)
}

type postgresRepository struct {
	db *db.Postgres
}

func NewRepository(pg *db.Postgres) Repository {
	return &postgresRepository{db: pg}
}

const selectReturn = `
	SELECT id, order_id, state, reason, return_label, refund_amount, refund_id, created_at, updated_at
	FROM return_requests
`

func scanReturn(row pgx.Row) (*Request, error) {
	var r Request
	err := row.Scan(
		&r.ID,
		&r.OrderID,
		&r.State,
		&r.Reason,
		&r.ReturnLabel,
		&r.RefundAmount,
		&r.RefundID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *postgresRepository) Create(ctx context.Context, r *Request) error {
	query := `
		INSERT INTO return_requests (id, order_id, state, reason, return_label, refund_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	now := time.Now().UTC()
	_, err := p.db.Conn(ctx).Exec(ctx, query, r.ID, r.OrderID, string(r.State), r.Reason, r.ReturnLabel, r.RefundAmount, now)
	if err != nil {
		if db.IsUniqueViolation(err, indexOneOpen) {
			return ErrOpenReturnExists
		}
		return fmt.Errorf("repository: failed to insert return request for order %s: %w", r.OrderID, err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (p *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	r, err := scanReturn(p.db.Conn(ctx).QueryRow(ctx, selectReturn+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReturnNotFound
		}
		return nil, fmt.Errorf("repository: failed to select return request %s: %w", id, err)
	}
	return r, nil
}

func (p *postgresRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Request, error) {
	rows, err := p.db.Conn(ctx).Query(ctx, selectReturn+` WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query return requests for order %s: %w", orderID, err)
	}
	defer rows.Close()

	out := make([]Request, 0)
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan return request for order %s: %w", orderID, err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating return requests for order %s: %w", orderID, err)
	}
	return out, nil
}

func (p *postgresRepository) UpdateState(ctx context.Context, id uuid.UUID, from, to State, c Changes, at time.Time) (bool, error) {
	query := `
		UPDATE return_requests
		SET state = $3,
		    return_label = COALESCE($4, return_label),
		    refund_amount = COALESCE($5, refund_amount),
		    refund_id = COALESCE($6, refund_id),
		    updated_at = $7
		WHERE id = $1 AND state = $2
	`

	cmdTag, err := p.db.Conn(ctx).Exec(ctx, query, id, string(from), string(to), c.ReturnLabel, c.RefundAmount, c.RefundID, at)
	if err != nil {
		return false, fmt.Errorf("repository: failed to update return request %s: %w", id, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}
