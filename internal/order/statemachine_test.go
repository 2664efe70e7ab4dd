package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    order.State
		to      order.State
		actor   order.Actor
		wantErr error
	}{
		{"system confirms payment", order.StatePendiente, order.StatePagado, order.ActorSystem, nil},
		{"operator cannot confirm payment", order.StatePendiente, order.StatePagado, order.ActorOperator, apperr.ErrForbidden},
		{"operator starts processing", order.StatePagado, order.StateProcesando, order.ActorOperator, nil},
		{"operator ships", order.StateProcesando, order.StateEnviado, order.ActorOperator, nil},
		{"operator delivers", order.StateEnviado, order.StateEntregado, order.ActorOperator, nil},
		{"operator cannot skip forward", order.StatePagado, order.StateEnviado, order.ActorOperator, order.ErrInvalidTransition},
		{"operator cannot go backwards", order.StateEnviado, order.StatePagado, order.ActorOperator, order.ErrInvalidTransition},
		{"operator cancels shipped order", order.StateEnviado, order.StateCancelado, order.ActorOperator, nil},
		{"nobody leaves delivered", order.StateEntregado, order.StateCancelado, order.ActorOperator, order.ErrInvalidTransition},
		{"nobody leaves cancelled", order.StateCancelado, order.StatePagado, order.ActorSystem, order.ErrInvalidTransition},
		{"customer cancels paid order", order.StatePagado, order.StateCancelado, order.ActorCustomer, nil},
		{"customer cannot cancel processing order", order.StateProcesando, order.StateCancelado, order.ActorCustomer, order.ErrInvalidTransition},
		{"customer cannot ship", order.StateProcesando, order.StateEnviado, order.ActorCustomer, apperr.ErrForbidden},
		{"unknown target state", order.StatePagado, order.State("PERDIDO"), order.ActorOperator, apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := order.CheckTransition(tt.from, tt.to, tt.actor)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestState_Stocked(t *testing.T) {
	assert.True(t, order.StatePagado.Stocked())
	assert.True(t, order.StateProcesando.Stocked())
	assert.True(t, order.StateEnviado.Stocked())
	assert.False(t, order.StatePendiente.Stocked())
	assert.False(t, order.StateEntregado.Stocked())
}
