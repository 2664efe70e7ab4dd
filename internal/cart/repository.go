package cart

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

type Repository interface {
	GetItems(ctx context.Context, userID uuid.UUID) ([]Item, error)
	// SetQuantity stores the absolute quantity of a cart line.
	SetQuantity(ctx context.Context, userID, productID uuid.UUID, qty int) error
	Clear(ctx context.Context, userID uuid.UUID) (int64, error)
}

type postgresRepository struct {
	db *db.Postgres
}

func NewRepository(pg *db.Postgres) Repository {
	return &postgresRepository{db: pg}
}

func (r *postgresRepository) GetItems(ctx context.Context, userID uuid.UUID) ([]Item, error) {
	query := `
		SELECT user_id, product_id, quantity, updated_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY updated_at, product_id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart for user %s: %w", userID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.UserID, &it.ProductID, &it.Quantity, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart items: %w", err)
	}

	return items, nil
}

func (r *postgresRepository) SetQuantity(ctx context.Context, userID, productID uuid.UUID, qty int) error {
	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.Conn(ctx).Exec(ctx, query, userID, productID, qty); err != nil {
		return fmt.Errorf("repository: failed to upsert cart item: %w", err)
	}
	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, userID uuid.UUID) (int64, error) {
	cmdTag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to clear cart for user %s: %w", userID, err)
	}
	return cmdTag.RowsAffected(), nil
}
