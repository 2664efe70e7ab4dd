package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

type Service interface {
	// Validate never fails for business-rule violations; those come back as an
	// invalid Validation carrying the reason. Only infrastructure errors are
	// returned as error.
	Validate(ctx context.Context, code string, userID uuid.NullUUID, subtotal decimal.Decimal) (Validation, error)
	// Redeem records the usage and consumes one use. It is idempotent per order.
	Redeem(ctx context.Context, req RedeemRequest) error
}

type service struct {
	repo Repository
	tx   db.Transactor
	now  func() time.Time
}

func NewService(repo Repository, tx db.Transactor) Service {
	return &service{repo: repo, tx: tx, now: time.Now}
}

func NewServiceWithClock(repo Repository, tx db.Transactor, now func() time.Time) Service {
	return &service{repo: repo, tx: tx, now: now}
}

func (s *service) Validate(ctx context.Context, code string, userID uuid.NullUUID, subtotal decimal.Decimal) (Validation, error) {
	code = NormalizeCode(code)
	result := Validation{Code: code, Discount: decimal.Zero}

	c, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			result.Reason = ReasonUnknownCode
			return result, nil
		}
		log.Error().Err(err).Str("code", code).Msg("service: failed to load coupon")
		return Validation{}, fmt.Errorf("service: failed to load coupon: %w", err)
	}
	result.CouponID = c.ID

	switch {
	case !c.Active:
		result.Reason = ReasonInactive
	case s.now().After(c.ExpiresAt):
		result.Reason = ReasonExpired
	case subtotal.LessThan(c.MinimumPurchase):
		result.Reason = ReasonBelowMinimum
	case c.UsageLimit != nil && c.Uses >= *c.UsageLimit:
		result.Reason = ReasonUsageLimitReached
	}
	if result.Reason != ReasonNone {
		return result, nil
	}

	// Guests have no identity to check; only registered users are tracked.
	if c.PerUserUnique && userID.Valid {
		used, err := s.repo.HasUsage(ctx, c.ID, userID.UUID)
		if err != nil {
			log.Error().Err(err).Str("code", code).Msg("service: failed to check coupon usage")
			return Validation{}, fmt.Errorf("service: failed to check coupon usage: %w", err)
		}
		if used {
			result.Reason = ReasonAlreadyUsed
			return result, nil
		}
	}

	result.Valid = true
	result.Discount = c.DiscountFor(subtotal)
	return result, nil
}

func (s *service) Redeem(ctx context.Context, req RedeemRequest) error {
	if req.OrderID == uuid.Nil {
		return apperr.Validation("order id is required to redeem a coupon")
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetByCode(ctx, req.Code)
		if err != nil {
			return err
		}

		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("service: failed to generate usage id: %w", err)
		}

		var uniqueUserKey uuid.NullUUID
		if c.PerUserUnique {
			uniqueUserKey = req.UserID
		}

		inserted, err := s.repo.InsertUsage(ctx, Usage{
			ID:              id,
			CouponID:        c.ID,
			UserID:          req.UserID,
			OrderID:         req.OrderID,
			DiscountApplied: req.Discount,
		}, uniqueUserKey)
		if err != nil {
			return err
		}
		if !inserted {
			log.Info().Stringer("order_id", req.OrderID).Str("code", c.Code).Msg("service: coupon already redeemed for order")
			return nil
		}

		ok, err := s.repo.IncrementUses(ctx, c.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUsageLimitReached
		}

		log.Info().Stringer("order_id", req.OrderID).Str("code", c.Code).Msg("service: coupon redeemed")
		return nil
	})
}
