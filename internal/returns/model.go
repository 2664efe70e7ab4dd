package returns

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type State string

const (
	StateSolicitada       State = "SOLICITADA"
	StateAprobada         State = "APROBADA"
	StateRechazada        State = "RECHAZADA"
	StateProductoRecibido State = "PRODUCTO_RECIBIDO"
	StateReembolsada      State = "REEMBOLSADA"
)

var allowedTransitions = map[State]map[State]bool{
	StateSolicitada: {
		StateAprobada:  true,
		StateRechazada: true,
	},
	StateAprobada: {
		StateProductoRecibido: true,
	},
	StateProductoRecibido: {
		StateReembolsada: true,
	},
	StateRechazada:   {},
	StateReembolsada: {},
}

func (s State) String() string {
	return string(s)
}

func (s State) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s State) Terminal() bool {
	return s == StateRechazada || s == StateReembolsada
}

func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

type Request struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	OrderID      uuid.UUID        `json:"order_id" db:"order_id"`
	State        State            `json:"state" db:"state"`
	Reason       string           `json:"reason,omitempty" db:"reason"`
	ReturnLabel  string           `json:"return_label,omitempty" db:"return_label"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty" db:"refund_amount"`
	RefundID     string           `json:"refund_id,omitempty" db:"refund_id"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// Changes are the columns written together with a state change.
type Changes struct {
	ReturnLabel  *string
	RefundAmount *decimal.Decimal
	RefundID     *string
}
