package order

import (
	"fmt"

	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

var allowedTransitions = map[State]map[State]bool{
	StatePendiente: {
		StatePagado:    true,
		StateCancelado: true,
	},
	StatePagado: {
		StateProcesando: true,
		StateCancelado:  true,
	},
	StateProcesando: {
		StateEnviado:   true,
		StateCancelado: true,
	},
	StateEnviado: {
		StateEntregado: true,
		StateCancelado: true,
	},
	StateEntregado: {},
	StateCancelado: {},
}

// CheckTransition validates from -> to for actor. Same-state requests are
// handled by the caller as no-ops and are not checked here.
func CheckTransition(from, to State, actor Actor) error {
	if !to.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown order state %q", to))
	}

	transitionsForCurrent, ok := allowedTransitions[from]
	if !ok || !transitionsForCurrent[to] {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, from, to)
	}

	switch actor {
	case ActorSystem:
		return nil
	case ActorOperator:
		if from == StatePendiente && to == StatePagado {
			return fmt.Errorf("only payment confirmation can mark an order paid: %w", apperr.ErrForbidden)
		}
		return nil
	case ActorCustomer:
		if to != StateCancelado {
			return fmt.Errorf("customers may only cancel orders: %w", apperr.ErrForbidden)
		}
		if from != StatePagado {
			return fmt.Errorf("%w: customers may only cancel paid orders, order is %s", ErrInvalidTransition, from)
		}
		return nil
	default:
		return fmt.Errorf("unknown actor %q: %w", actor, apperr.ErrForbidden)
	}
}
