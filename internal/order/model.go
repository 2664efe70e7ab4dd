package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type State string

const (
	StatePendiente  State = "PENDIENTE"
	StatePagado     State = "PAGADO"
	StateProcesando State = "PROCESANDO"
	StateEnviado    State = "ENVIADO"
	StateEntregado  State = "ENTREGADO"
	StateCancelado  State = "CANCELADO"
)

func (s State) String() string {
	return string(s)
}

func (s State) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s State) Terminal() bool {
	return s == StateEntregado || s == StateCancelado
}

// Stocked reports whether stock for the order's items has been taken, so
// that cancelling from s must give it back.
func (s State) Stocked() bool {
	return s == StatePagado || s == StateProcesando || s == StateEnviado
}

type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorOperator Actor = "operator"
	ActorSystem   Actor = "system"
)

// Viewer is who is acting on an order.
type Viewer struct {
	Actor  Actor
	UserID uuid.NullUUID
}

func (v Viewer) Owns(o *Order) bool {
	return v.UserID.Valid && o.UserID.Valid && v.UserID.UUID == o.UserID.UUID
}

func (v Viewer) CanSee(o *Order) bool {
	return v.Actor == ActorOperator || v.Actor == ActorSystem || v.Owns(o)
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Item struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrderID      uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID    uuid.UUID       `json:"product_id" db:"product_id"`
	Quantity     int             `json:"quantity" db:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineSubtotal decimal.Decimal `json:"line_subtotal" db:"line_subtotal"`

	// ReservedQuantity is what the ledger actually gave this line at payment.
	// Only this much goes back on cancellation or return.
	ReservedQuantity int `json:"reserved_quantity" db:"reserved_quantity"`
}

type Order struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	OrderNumber      *int64          `json:"order_number,omitempty" db:"order_number"` // assigned at payment
	State            State           `json:"state" db:"state"`
	PaymentSessionID *string         `json:"payment_session_id,omitempty" db:"payment_session_id"`
	PaymentReference string          `json:"-" db:"payment_reference"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount         decimal.Decimal `json:"discount" db:"discount"`
	Shipping         decimal.Decimal `json:"shipping" db:"shipping"`
	Total            decimal.Decimal `json:"total" db:"total"`
	CouponID         uuid.NullUUID   `json:"coupon_id" db:"coupon_id"`
	UserID           uuid.NullUUID   `json:"user_id" db:"user_id"`
	CustomerEmail    string          `json:"customer_email" db:"customer_email"`
	ShippingAddress  Address         `json:"shipping_address" db:"shipping_address"`
	Items            []Item          `json:"items" db:"-"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
}

// Number returns the order number or 0 while unassigned.
func (o *Order) Number() int64 {
	if o.OrderNumber == nil {
		return 0
	}
	return *o.OrderNumber
}

type History struct {
	ID            int64     `json:"id" db:"id"`
	OrderID       uuid.UUID `json:"order_id" db:"order_id"`
	PreviousState *State    `json:"previous_state,omitempty" db:"previous_state"`
	NewState      State     `json:"new_state" db:"new_state"`
	Actor         Actor     `json:"actor" db:"actor"`
	Reason        string    `json:"reason,omitempty" db:"reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Total is subtotal - discount + shipping rounded to cents, never negative.
func Total(subtotal, discount, shipping decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discount).Add(shipping).Round(2)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// LineSubtotal is the snapshotted price times quantity.
func LineSubtotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}
