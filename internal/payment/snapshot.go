package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

// Provider metadata values are capped in length, so long JSON values are
// split across numbered keys.
const metadataValueLimit = 500

type SnapshotItem struct {
	ProductID uuid.UUID       `json:"p"`
	Quantity  int             `json:"q"`
	UnitPrice decimal.Decimal `json:"u"`
}

// CartSnapshot is everything needed to rebuild the order from the payment
// session alone.
type CartSnapshot struct {
	OrderID    uuid.UUID
	UserID     uuid.NullUUID
	Email      string
	Items      []SnapshotItem
	Discount   decimal.Decimal
	Shipping   decimal.Decimal
	CouponID   uuid.NullUUID
	CouponCode string
	Address    order.Address
}

func (s CartSnapshot) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, it := range s.Items {
		subtotal = subtotal.Add(order.LineSubtotal(it.UnitPrice, it.Quantity))
	}
	return subtotal
}

func (s CartSnapshot) Encode() (map[string]string, error) {
	meta := map[string]string{
		"order_id": s.OrderID.String(),
		"email":    s.Email,
		"discount": s.Discount.StringFixed(2),
		"shipping": s.Shipping.StringFixed(2),
	}
	if s.UserID.Valid {
		meta["user_id"] = s.UserID.UUID.String()
	}
	if s.CouponID.Valid {
		meta["coupon_id"] = s.CouponID.UUID.String()
	}
	if s.CouponCode != "" {
		meta["coupon_code"] = s.CouponCode
	}

	items, err := json.Marshal(s.Items)
	if err != nil {
		return nil, fmt.Errorf("payment: failed to encode items: %w", err)
	}
	putChunked(meta, "items", string(items))

	addr, err := json.Marshal(s.Address)
	if err != nil {
		return nil, fmt.Errorf("payment: failed to encode address: %w", err)
	}
	putChunked(meta, "address", string(addr))

	return meta, nil
}

func DecodeSnapshot(meta map[string]string) (CartSnapshot, error) {
	var s CartSnapshot
	var err error

	if s.OrderID, err = uuid.FromString(meta["order_id"]); err != nil {
		return s, invalidMetadata("order_id", err)
	}
	if v := meta["user_id"]; v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			return s, invalidMetadata("user_id", err)
		}
		s.UserID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if v := meta["coupon_id"]; v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			return s, invalidMetadata("coupon_id", err)
		}
		s.CouponID = uuid.NullUUID{UUID: id, Valid: true}
	}
	s.Email = meta["email"]
	s.CouponCode = meta["coupon_code"]

	if s.Discount, err = decimal.NewFromString(meta["discount"]); err != nil {
		return s, invalidMetadata("discount", err)
	}
	if s.Shipping, err = decimal.NewFromString(meta["shipping"]); err != nil {
		return s, invalidMetadata("shipping", err)
	}

	if err := json.Unmarshal([]byte(getChunked(meta, "items")), &s.Items); err != nil {
		return s, invalidMetadata("items", err)
	}
	if len(s.Items) == 0 {
		return s, invalidMetadata("items", fmt.Errorf("no items"))
	}
	if raw := getChunked(meta, "address"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Address); err != nil {
			return s, invalidMetadata("address", err)
		}
	}

	return s, nil
}

func invalidMetadata(key string, err error) error {
	return fmt.Errorf("payment: session metadata %q is invalid: %v: %w", key, err, apperr.ErrInternal)
}

func putChunked(meta map[string]string, key, value string) {
	if len(value) <= metadataValueLimit {
		meta[key] = value
		return
	}
	n := 0
	for len(value) > 0 {
		end := min(metadataValueLimit, len(value))
		meta[key+"_"+strconv.Itoa(n)] = value[:end]
		value = value[end:]
		n++
	}
}

func getChunked(meta map[string]string, key string) string {
	if v, ok := meta[key]; ok {
		return v
	}
	var b strings.Builder
	for n := 0; ; n++ {
		part, ok := meta[key+"_"+strconv.Itoa(n)]
		if !ok {
			break
		}
		b.WriteString(part)
	}
	return b.String()
}
