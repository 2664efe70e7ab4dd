package order

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
	ErrOrderNotFound     = fmt.Errorf("order: %w", apperr.ErrNotFound)
	ErrDuplicateSession  = fmt.Errorf("order already exists for payment session: %w", apperr.ErrConflict)
	ErrOrderExists       = fmt.Errorf("order id already exists: %w", apperr.ErrConflict)
	ErrOrderNumberTaken  = fmt.Errorf("order number already taken: %w", apperr.ErrConflict)
	ErrStateChanged      = fmt.Errorf("order state changed concurrently: %w", apperr.ErrConflict)
	ErrInvalidTransition = fmt.Errorf("invalid order state transition: %w", apperr.ErrConflict)
)

const (
	constraintOrderKey       = "orders_pkey"
	constraintOrderNumber    = "orders_order_number_key"
	constraintPaymentSession = "orders_payment_session_id_key"
)

type Repository interface {
	// Create inserts the order and its items atomically.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error
	// UpdateState moves the order from one state to another and reports false
	// when the stored state is no longer from.
	UpdateState(ctx context.Context, id uuid.UUID, from, to State, at time.Time) (bool, error)
	// MarkPaid promotes the pending order of a session and reports false when
	// no pending order matched.
	MarkPaid(ctx context.Context, sessionID string, number int64, paymentRef string, paidAt time.Time) (bool, error)
	NextOrderNumber(ctx context.Context) (int64, error)
	// MarkReserved records the quantity the ledger took for an order item.
	MarkReserved(ctx context.Context, itemID uuid.UUID, qty int) error
	InsertHistory(ctx context.Context, h History) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]History, error)
}

type postgresRepository struct {
	db *db.Postgres
}

func NewRepository(pg *db.Postgres) Repository {
	return &postgresRepository{db: pg}
}

const selectOrder = `
	SELECT id, order_number, state, payment_session_id, payment_reference,
	       subtotal, discount, shipping, total, coupon_id, user_id, customer_email,
	       shipping_address, created_at, updated_at, paid_at, delivered_at
	FROM orders
`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.State,
		&o.PaymentSessionID,
		&o.PaymentReference,
		&o.Subtotal,
		&o.Discount,
		&o.Shipping,
		&o.Total,
		&o.CouponID,
		&o.UserID,
		&o.CustomerEmail,
		&o.ShippingAddress,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.PaidAt,
		&o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	queryOrder := `
		INSERT INTO orders (id, order_number, state, payment_session_id, payment_reference,
		                    subtotal, discount, shipping, total, coupon_id, user_id,
		                    customer_email, shipping_address, created_at, updated_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14, $15)
	`
	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, line_subtotal, reserved_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)

		now := time.Now().UTC()
		_, err := conn.Exec(ctx, queryOrder,
			o.ID,
			o.OrderNumber,
			string(o.State),
			o.PaymentSessionID,
			o.PaymentReference,
			o.Subtotal,
			o.Discount,
			o.Shipping,
			o.Total,
			o.CouponID,
			o.UserID,
			o.CustomerEmail,
			o.ShippingAddress,
			now,
			o.PaidAt,
		)
		if err != nil {
			switch {
			case db.IsUniqueViolation(err, constraintPaymentSession):
				return ErrDuplicateSession
			case db.IsUniqueViolation(err, constraintOrderNumber):
				return ErrOrderNumberTaken
			case db.IsUniqueViolation(err, constraintOrderKey):
				return ErrOrderExists
			}
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}
		o.CreatedAt = now
		o.UpdatedAt = now

		for i := range o.Items {
			item := &o.Items[i]
			if item.ID == uuid.Nil {
				id, genErr := uuid.NewV4()
				if genErr != nil {
					return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
				}
				item.ID = id
			}
			item.OrderID = o.ID

			_, err = conn.Exec(ctx, queryItem,
				item.ID,
				item.OrderID,
				item.ProductID,
				item.Quantity,
				item.UnitPrice,
				item.LineSubtotal,
				item.ReservedQuantity,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.db.Conn(ctx).QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	if o.Items, err = r.getItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	o, err := scanOrder(r.db.Conn(ctx).QueryRow(ctx, selectOrder+` WHERE payment_session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by session: %w", err)
	}

	if o.Items, err = r.getItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) getItems(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price, line_subtotal, reserved_quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.LineSubtotal, &it.ReservedQuantity); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %s: %w", orderID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %s: %w", orderID, err)
	}

	return items, nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, selectOrder+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user %s: %w", userID, err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user %s: %w", userID, err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user %s: %w", userID, err)
	}

	return orders, nil
}

func (r *postgresRepository) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	cmdTag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE orders SET payment_session_id = $2, updated_at = now() WHERE id = $1`,
		id, sessionID,
	)
	if err != nil {
		if db.IsUniqueViolation(err, constraintPaymentSession) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("repository: failed to store payment session for order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) UpdateState(ctx context.Context, id uuid.UUID, from, to State, at time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET state = $3,
		    updated_at = $4,
		    delivered_at = CASE WHEN $3 = 'ENTREGADO' THEN $4 ELSE delivered_at END
		WHERE id = $1 AND state = $2
	`

	cmdTag, err := r.db.Conn(ctx).Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("repository: failed to update order state for order %s: %w", id, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) MarkPaid(ctx context.Context, sessionID string, number int64, paymentRef string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET state = 'PAGADO', order_number = $2, payment_reference = $3, paid_at = $4, updated_at = $4
		WHERE payment_session_id = $1 AND state = 'PENDIENTE'
	`

	cmdTag, err := r.db.Conn(ctx).Exec(ctx, query, sessionID, number, paymentRef, paidAt)
	if err != nil {
		if db.IsUniqueViolation(err, constraintOrderNumber) {
			return false, ErrOrderNumberTaken
		}
		return false, fmt.Errorf("repository: failed to mark order paid: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	var next int64
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT COALESCE(MAX(order_number), 0) + 1 FROM orders`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to allocate order number: %w", err)
	}
	return next, nil
}

func (r *postgresRepository) MarkReserved(ctx context.Context, itemID uuid.UUID, qty int) error {
	cmdTag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE order_items SET reserved_quantity = $2 WHERE id = $1`,
		itemID, qty,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to mark order item %s reserved: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("repository: order item %s: %w", itemID, apperr.ErrNotFound)
	}
	return nil
}

func (r *postgresRepository) InsertHistory(ctx context.Context, h History) error {
	query := `
		INSERT INTO order_history (order_id, previous_state, new_state, actor, reason)
		VALUES ($1, $2, $3, $4, $5)
	`

	var prev *string
	if h.PreviousState != nil {
		s := string(*h.PreviousState)
		prev = &s
	}

	_, err := r.db.Conn(ctx).Exec(ctx, query, h.OrderID, prev, string(h.NewState), string(h.Actor), h.Reason)
	if err != nil {
		return fmt.Errorf("repository: failed to insert history for order %s: %w", h.OrderID, err)
	}
	return nil
}

func (r *postgresRepository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]History, error) {
	query := `
		SELECT id, order_id, previous_state, new_state, actor, reason, created_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := make([]History, 0)
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.OrderID, &h.PreviousState, &h.NewState, &h.Actor, &h.Reason, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan history for order %s: %w", orderID, err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating history for order %s: %w", orderID, err)
	}

	return history, nil
}
