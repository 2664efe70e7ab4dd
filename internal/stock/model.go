package stock

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Stock     int             `json:"stock" db:"stock"`
	Active    bool            `json:"active" db:"active"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Hold is a time-boxed claim on available stock for a pending order. It never
// changes Product.Stock; it only lowers what checkout sees as available.
type Hold struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

type Availability struct {
	Available    bool `json:"available"`
	Active       bool `json:"active"`
	CurrentStock int  `json:"current_stock"`
	Held         int  `json:"held"`
}
