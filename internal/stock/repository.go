package stock

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

var ErrProductNotFound = fmt.Errorf("product: %w", apperr.ErrNotFound)

type Repository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	// CompareAndSetStock writes next only while the stored stock still equals
	// expected. It reports false when no row matched.
	CompareAndSetStock(ctx context.Context, id uuid.UUID, expected, next int) (bool, error)
	HeldQuantities(ctx context.Context, ids []uuid.UUID, now time.Time) (map[uuid.UUID]int, error)
	InsertHolds(ctx context.Context, holds []Hold) error
	DeleteHolds(ctx context.Context, orderID uuid.UUID) (int64, error)
	DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

type postgresRepository struct {
	db *db.Postgres
}

func NewRepository(pg *db.Postgres) Repository {
	return &postgresRepository{db: pg}
}

func (r *postgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, price, stock, active, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.Stock,
		&p.Active,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	return &p, nil
}

func (r *postgresRepository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, name, price, stock, active, updated_at
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		out[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating products: %w", err)
	}

	return out, nil
}

func (r *postgresRepository) CompareAndSetStock(ctx context.Context, id uuid.UUID, expected, next int) (bool, error) {
	query := `
		UPDATE products
		SET stock = $3, updated_at = now()
		WHERE id = $1 AND stock = $2
	`

	cmdTag, err := r.db.Conn(ctx).Exec(ctx, query, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("repository: failed to update stock for product %s: %w", id, err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) HeldQuantities(ctx context.Context, ids []uuid.UUID, now time.Time) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT product_id, COALESCE(SUM(quantity), 0)
		FROM stock_holds
		WHERE product_id = ANY($1) AND expires_at > $2
		GROUP BY product_id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, ids, now)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query held quantities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID uuid.UUID
			held      int
		)
		if err := rows.Scan(&productID, &held); err != nil {
			return nil, fmt.Errorf("repository: failed to scan held quantity: %w", err)
		}
		out[productID] = held
	}

	return out, rows.Err()
}

func (r *postgresRepository) InsertHolds(ctx context.Context, holds []Hold) error {
	if len(holds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, h := range holds {
		batch.Queue(`
			INSERT INTO stock_holds (id, order_id, product_id, quantity, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`, h.ID, h.OrderID, h.ProductID, h.Quantity, h.ExpiresAt)
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		tx, ok := r.db.Conn(ctx).(pgx.Tx)
		if !ok {
			return errors.New("repository: batch requires a transaction")
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("repository: failed to insert stock holds: %w", err)
		}
		return nil
	})
}

func (r *postgresRepository) DeleteHolds(ctx context.Context, orderID uuid.UUID) (int64, error) {
	cmdTag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM stock_holds WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to delete holds for order %s: %w", orderID, err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *postgresRepository) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM stock_holds WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to delete expired holds: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
