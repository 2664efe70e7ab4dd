package coupon

import (
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Coupon struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Code            string          `json:"code" db:"code"`
	DiscountType    DiscountType    `json:"discount_type" db:"discount_type"`
	Value           decimal.Decimal `json:"value" db:"value"`
	MinimumPurchase decimal.Decimal `json:"minimum_purchase" db:"minimum_purchase"`
	UsageLimit      *int            `json:"usage_limit,omitempty" db:"usage_limit"` // nil means unlimited
	Uses            int             `json:"uses" db:"uses"`
	PerUserUnique   bool            `json:"per_user_unique" db:"per_user_unique"`
	ExpiresAt       time.Time       `json:"expires_at" db:"expires_at"`
	Active          bool            `json:"active" db:"active"`
}

// Usage is the redemption record; its existence means the coupon was consumed.
type Usage struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	CouponID        uuid.UUID       `json:"coupon_id" db:"coupon_id"`
	UserID          uuid.NullUUID   `json:"user_id" db:"user_id"`
	OrderID         uuid.UUID       `json:"order_id" db:"order_id"`
	DiscountApplied decimal.Decimal `json:"discount_applied" db:"discount_applied"`
}

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonUnknownCode       Reason = "unknown_code"
	ReasonInactive          Reason = "inactive"
	ReasonExpired           Reason = "expired"
	ReasonBelowMinimum      Reason = "below_minimum"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonAlreadyUsed       Reason = "already_used"
)

type Validation struct {
	Valid    bool            `json:"valid"`
	Code     string          `json:"code"`
	CouponID uuid.UUID       `json:"coupon_id,omitempty"`
	Discount decimal.Decimal `json:"discount"`
	Reason   Reason          `json:"reason,omitempty"`
}

type RedeemRequest struct {
	Code     string
	UserID   uuid.NullUUID
	OrderID  uuid.UUID
	Discount decimal.Decimal
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountFor computes the discount for subtotal, never exceeding it.
func (c *Coupon) DiscountFor(subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixed:
		discount = c.Value
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}
