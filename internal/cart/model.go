package cart

import (
	"time"

	"github.com/gofrs/uuid"
)

type Item struct {
	UserID    uuid.UUID `json:"-" db:"user_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Cart struct {
	UserID uuid.UUID `json:"user_id"`
	Items  []Item    `json:"items"`
}

// Quantity returns how many units of productID the cart holds.
func (c *Cart) Quantity(productID uuid.UUID) int {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}
