package coupon

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

var (
	ErrCouponNotFound    = fmt.Errorf("coupon: %w", apperr.ErrNotFound)
	ErrAlreadyRedeemed   = fmt.Errorf("coupon already redeemed by this user: %w", apperr.ErrConflict)
	ErrUsageLimitReached = fmt.Errorf("coupon usage limit reached: %w", apperr.ErrConflict)
)

const (
	constraintCouponUser  = "coupon_usages_coupon_user_key"
	constraintCouponOrder = "coupon_usages_coupon_order_key"
)

type Repository interface {
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	HasUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error)
	// InsertUsage reports false when this order already redeemed the coupon.
	InsertUsage(ctx context.Context, usage Usage, uniqueUserKey uuid.NullUUID) (bool, error)
	// IncrementUses reports false when the usage limit is already reached.
	IncrementUses(ctx context.Context, couponID uuid.UUID) (bool, error)
}

type postgresRepository struct {
	db *db.Postgres
}

func NewRepository(pg *db.Postgres) Repository {
	return &postgresRepository{db: pg}
}

func (r *postgresRepository) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	query := `
		SELECT id, code, discount_type, value, minimum_purchase, usage_limit, uses,
		       per_user_unique, expires_at, active
		FROM coupons
		WHERE code = $1
	`

	var c Coupon
	err := r.db.Conn(ctx).QueryRow(ctx, query, NormalizeCode(code)).Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.Value,
		&c.MinimumPurchase,
		&c.UsageLimit,
		&c.Uses,
		&c.PerUserUnique,
		&c.ExpiresAt,
		&c.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to select coupon: %w", err)
	}

	return &c, nil
}

func (r *postgresRepository) HasUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2)`,
		couponID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check coupon usage: %w", err)
	}
	return exists, nil
}

func (r *postgresRepository) InsertUsage(ctx context.Context, usage Usage, uniqueUserKey uuid.NullUUID) (bool, error) {
	query := `
		INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, discount_applied, unique_user_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT ` + constraintCouponOrder + ` DO NOTHING
	`

	cmdTag, err := r.db.Conn(ctx).Exec(ctx, query,
		usage.ID,
		usage.CouponID,
		usage.UserID,
		usage.OrderID,
		usage.DiscountApplied,
		uniqueUserKey,
	)
	if err != nil {
		if db.IsUniqueViolation(err, constraintCouponUser) {
			return false, ErrAlreadyRedeemed
		}
		return false, fmt.Errorf("repository: failed to insert coupon usage: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

func (r *postgresRepository) IncrementUses(ctx context.Context, couponID uuid.UUID) (bool, error) {
	query := `
		UPDATE coupons
		SET uses = uses + 1
		WHERE id = $1 AND (usage_limit IS NULL OR uses < usage_limit)
	`

	cmdTag, err := r.db.Conn(ctx).Exec(ctx, query, couponID)
	if err != nil {
		return false, fmt.Errorf("repository: failed to increment coupon uses: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}
