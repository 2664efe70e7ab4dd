package checkout

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/coupon"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

type Pricing struct {
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	// FreeShippingCode zeroes shipping instead of granting a discount. It is
	// never looked up in the coupon table.
	FreeShippingCode string
}

type Quote struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Shipping     decimal.Decimal `json:"shipping"`
	Total        decimal.Decimal `json:"total"`
	CouponID     uuid.NullUUID   `json:"coupon_id"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	FreeShipping bool            `json:"free_shipping"`
}

// Shipping is the flat fee, waived once subtotal reaches the threshold.
func (p Pricing) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if p.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee
}

func (p Pricing) IsFreeShippingCode(code string) bool {
	return p.FreeShippingCode != "" && coupon.NormalizeCode(code) == coupon.NormalizeCode(p.FreeShippingCode)
}

// quote prices a cart. v is the coupon validation for a regular code and is
// ignored for the free-shipping code; the two never stack.
func (p Pricing) quote(subtotal decimal.Decimal, code string, v *coupon.Validation) Quote {
	q := Quote{
		Subtotal: subtotal,
		Discount: decimal.Zero,
		Shipping: p.Shipping(subtotal),
	}

	switch {
	case code != "" && p.IsFreeShippingCode(code):
		q.Shipping = decimal.Zero
		q.FreeShipping = true
		q.CouponCode = coupon.NormalizeCode(code)
	case v != nil && v.Valid:
		q.Discount = v.Discount
		q.CouponID = uuid.NullUUID{UUID: v.CouponID, Valid: true}
		q.CouponCode = v.Code
	}

	q.Total = order.Total(q.Subtotal, q.Discount, q.Shipping)
	return q
}
