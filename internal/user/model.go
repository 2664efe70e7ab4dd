package user

import (
	"time"

	"github.com/gofrs/uuid"
)

// User is the slice of the customer account this service reads. Accounts are
// owned by the identity service.
type User struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	Email               string    `json:"email" db:"email"`
	NotificationsOptOut bool      `json:"notifications_opt_out" db:"notifications_opt_out"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
