package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/document"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

type fixture struct {
	repo     *MockOrderRepository
	ledger   *MockLedger
	notifier *MockNotifier
	prefs    *MockPreferences
	docs     *MockGenerator
	svc      order.Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     new(MockOrderRepository),
		ledger:   new(MockLedger),
		notifier: new(MockNotifier),
		prefs:    new(MockPreferences),
		docs:     new(MockGenerator),
	}
	f.svc = order.NewService(f.repo, passthroughTx{}, f.ledger, f.notifier, f.prefs, f.docs)
	return f
}

func paidOrder(owner uuid.UUID) (*order.Order, uuid.UUID, uuid.UUID) {
	productA := uuid.Must(uuid.NewV4())
	productB := uuid.Must(uuid.NewV4())
	number := int64(42)
	o := &order.Order{
		ID:            uuid.Must(uuid.NewV4()),
		OrderNumber:   &number,
		State:         order.StatePagado,
		UserID:        uuid.NullUUID{UUID: owner, Valid: true},
		CustomerEmail: "ana@example.com",
		Subtotal:      decimal.RequireFromString("25"),
		Total:         decimal.RequireFromString("29.99"),
		Items: []order.Item{
			{ID: uuid.Must(uuid.NewV4()), ProductID: productA, Quantity: 2, UnitPrice: decimal.RequireFromString("10"), ReservedQuantity: 2},
			{ID: uuid.Must(uuid.NewV4()), ProductID: productB, Quantity: 1, UnitPrice: decimal.RequireFromString("5"), ReservedQuantity: 1},
		},
	}
	return o, productA, productB
}

func customer(id uuid.UUID) order.Viewer {
	return order.Viewer{Actor: order.ActorCustomer, UserID: uuid.NullUUID{UUID: id, Valid: true}}
}

var operator = order.Viewer{Actor: order.ActorOperator}

func TestOrderService_Cancel_RestoresEveryItem(t *testing.T) {
	f := newFixture()
	owner := uuid.Must(uuid.NewV4())
	o, productA, productB := paidOrder(owner)

	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
	f.repo.On("UpdateState", mock.Anything, o.ID, order.StatePagado, order.StateCancelado, mock.Anything).Return(true, nil).Once()
	f.ledger.On("Restore", mock.Anything, productA, 2).Return(12, nil).Once()
	f.ledger.On("Restore", mock.Anything, productB, 1).Return(4, nil).Once()
	f.repo.On("InsertHistory", mock.Anything, mock.MatchedBy(func(h order.History) bool {
		return h.OrderID == o.ID &&
			h.PreviousState != nil && *h.PreviousState == order.StatePagado &&
			h.NewState == order.StateCancelado &&
			h.Actor == order.ActorCustomer
	})).Return(nil).Once()
	f.prefs.On("WantsNotifications", mock.Anything, o.UserID).Return(true, nil).Once()
	f.notifier.On("SendStatusUpdate", mock.Anything, mock.MatchedBy(func(m notify.StatusMessage) bool {
		return m.NewState == "CANCELADO" && m.PreviousState == "PAGADO" && m.OrderNumber == 42
	})).Return(true).Once()

	res, err := f.svc.Cancel(context.Background(), o.ID, customer(owner), "changed my mind")

	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.RestoredItems)
	assert.True(t, res.Notified)
	assert.Equal(t, order.StateCancelado, res.Order.State)
	f.repo.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestOrderService_Cancel_RestoresOnlyReservedStock(t *testing.T) {
	for _, from := range []order.State{order.StatePagado, order.StateProcesando, order.StateEnviado} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture()
			o, productA, productB := paidOrder(uuid.Must(uuid.NewV4()))
			o.State = from
			// productB was short when the payment landed.
			o.Items[1].ReservedQuantity = 0

			f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
			f.repo.On("UpdateState", mock.Anything, o.ID, from, order.StateCancelado, mock.Anything).Return(true, nil).Once()
			f.ledger.On("Restore", mock.Anything, productA, 2).Return(12, nil).Once()
			f.repo.On("InsertHistory", mock.Anything, mock.Anything).Return(nil).Once()
			f.prefs.On("WantsNotifications", mock.Anything, o.UserID).Return(false, nil).Once()

			res, err := f.svc.Cancel(context.Background(), o.ID, operator, "out of stock")

			require.NoError(t, err)
			assert.Equal(t, 1, res.RestoredItems)
			f.ledger.AssertExpectations(t)
			f.ledger.AssertNotCalled(t, "Restore", mock.Anything, productB, mock.Anything)
		})
	}
}

func TestOrderService_Cancel_PartialReservationRestoresRecordedAmount(t *testing.T) {
	f := newFixture()
	o, productA, productB := paidOrder(uuid.Must(uuid.NewV4()))
	o.Items[0].ReservedQuantity = 1

	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
	f.repo.On("UpdateState", mock.Anything, o.ID, order.StatePagado, order.StateCancelado, mock.Anything).Return(true, nil).Once()
	f.ledger.On("Restore", mock.Anything, productA, 1).Return(11, nil).Once()
	f.ledger.On("Restore", mock.Anything, productB, 1).Return(4, nil).Once()
	f.repo.On("InsertHistory", mock.Anything, mock.Anything).Return(nil).Once()
	f.prefs.On("WantsNotifications", mock.Anything, o.UserID).Return(false, nil).Once()

	res, err := f.svc.Cancel(context.Background(), o.ID, operator, "")

	require.NoError(t, err)
	assert.Equal(t, 2, res.RestoredItems)
	f.ledger.AssertExpectations(t)
}

func TestOrderService_Cancel_CustomerOnNonPaidOrderFails(t *testing.T) {
	for _, state := range []order.State{order.StateProcesando, order.StateEnviado, order.StateEntregado, order.StatePendiente} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture()
			owner := uuid.Must(uuid.NewV4())
			o, _, _ := paidOrder(owner)
			o.State = state
			f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()

			_, err := f.svc.Cancel(context.Background(), o.ID, customer(owner), "")

			require.Error(t, err)
			f.repo.AssertNotCalled(t, "UpdateState", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.ledger.AssertNotCalled(t, "Restore", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOrderService_Cancel_OtherCustomerForbidden(t *testing.T) {
	f := newFixture()
	o, _, _ := paidOrder(uuid.Must(uuid.NewV4()))
	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()

	_, err := f.svc.Cancel(context.Background(), o.ID, customer(uuid.Must(uuid.NewV4())), "")

	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestOrderService_Cancel_RestoreFailureAbortsWholeCancellation(t *testing.T) {
	f := newFixture()
	o, productA, productB := paidOrder(uuid.Must(uuid.NewV4()))

	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
	f.repo.On("UpdateState", mock.Anything, o.ID, order.StatePagado, order.StateCancelado, mock.Anything).Return(true, nil).Once()
	f.ledger.On("Restore", mock.Anything, productA, 2).Return(12, nil).Once()
	f.ledger.On("Restore", mock.Anything, productB, 1).Return(0, apperr.Conflict("stock")).Once()

	res, err := f.svc.Cancel(context.Background(), o.ID, operator, "")

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, order.StatePagado, o.State)
	f.repo.AssertNotCalled(t, "InsertHistory", mock.Anything, mock.Anything)
}

func TestOrderService_Transition_LostRace(t *testing.T) {
	f := newFixture()
	o, _, _ := paidOrder(uuid.Must(uuid.NewV4()))
	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
	f.repo.On("UpdateState", mock.Anything, o.ID, order.StatePagado, order.StateProcesando, mock.Anything).Return(false, nil).Once()

	_, err := f.svc.Transition(context.Background(), order.TransitionRequest{OrderID: o.ID, To: order.StateProcesando, By: operator})

	assert.ErrorIs(t, err, order.ErrStateChanged)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestOrderService_Transition_SameStateIsNoop(t *testing.T) {
	f := newFixture()
	o, _, _ := paidOrder(uuid.Must(uuid.NewV4()))
	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()

	res, err := f.svc.Transition(context.Background(), order.TransitionRequest{OrderID: o.ID, To: order.StatePagado, By: operator})

	require.NoError(t, err)
	assert.False(t, res.Changed)
	f.repo.AssertNotCalled(t, "UpdateState", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_Transition_DeliveredStampsDate(t *testing.T) {
	f := newFixture()
	o, _, _ := paidOrder(uuid.Must(uuid.NewV4()))
	o.State = order.StateEnviado
	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
	f.repo.On("UpdateState", mock.Anything, o.ID, order.StateEnviado, order.StateEntregado, mock.Anything).Return(true, nil).Once()
	f.repo.On("InsertHistory", mock.Anything, mock.Anything).Return(nil).Once()
	f.prefs.On("WantsNotifications", mock.Anything, o.UserID).Return(false, nil).Once()

	res, err := f.svc.Transition(context.Background(), order.TransitionRequest{OrderID: o.ID, To: order.StateEntregado, By: operator})

	require.NoError(t, err)
	assert.NotNil(t, res.Order.DeliveredAt)
	assert.False(t, res.Notified)
	assert.Zero(t, res.RestoredItems)
	f.notifier.AssertNotCalled(t, "SendStatusUpdate", mock.Anything, mock.Anything)
}

func TestOrderService_Transition_QuietPendingCancelReleasesHolds(t *testing.T) {
	f := newFixture()
	o, _, _ := paidOrder(uuid.Must(uuid.NewV4()))
	o.State = order.StatePendiente
	o.OrderNumber = nil
	f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
	f.repo.On("UpdateState", mock.Anything, o.ID, order.StatePendiente, order.StateCancelado, mock.Anything).Return(true, nil).Once()
	f.repo.On("InsertHistory", mock.Anything, mock.MatchedBy(func(h order.History) bool {
		return h.Actor == order.ActorSystem && h.Reason == "payment gateway unavailable"
	})).Return(nil).Once()
	f.ledger.On("ReleaseHolds", mock.Anything, o.ID).Return(nil).Once()

	res, err := f.svc.Transition(context.Background(), order.TransitionRequest{
		OrderID: o.ID,
		To:      order.StateCancelado,
		By:      order.Viewer{Actor: order.ActorSystem},
		Reason:  "payment gateway unavailable",
		Quiet:   true,
	})

	require.NoError(t, err)
	assert.Zero(t, res.RestoredItems)
	f.ledger.AssertExpectations(t)
	f.ledger.AssertNotCalled(t, "Restore", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "SendStatusUpdate", mock.Anything, mock.Anything)
}

func TestOrderService_Get(t *testing.T) {
	owner := uuid.Must(uuid.NewV4())

	t.Run("not found", func(t *testing.T) {
		f := newFixture()
		id := uuid.Must(uuid.NewV4())
		f.repo.On("GetByID", mock.Anything, id).Return(nil, order.ErrOrderNotFound).Once()

		_, err := f.svc.Get(context.Background(), id, operator)

		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("store error", func(t *testing.T) {
		f := newFixture()
		id := uuid.Must(uuid.NewV4())
		f.repo.On("GetByID", mock.Anything, id).Return(nil, errors.New("timeout")).Once()

		_, err := f.svc.Get(context.Background(), id, operator)

		require.Error(t, err)
		assert.NotErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("owner sees order", func(t *testing.T) {
		f := newFixture()
		o, _, _ := paidOrder(owner)
		f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()

		got, err := f.svc.Get(context.Background(), o.ID, customer(owner))

		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
	})
}

func TestOrderService_Invoice(t *testing.T) {
	t.Run("paid order", func(t *testing.T) {
		f := newFixture()
		o, _, _ := paidOrder(uuid.Must(uuid.NewV4()))
		f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()
		f.docs.On("GenerateInvoice", mock.Anything, mock.MatchedBy(func(d document.Order) bool {
			return d.OrderNumber == 42 && len(d.Lines) == 2
		})).Return([]byte("%PDF"), nil).Once()

		doc, err := f.svc.Invoice(context.Background(), o.ID, operator)

		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF"), doc)
	})

	t.Run("unpaid order", func(t *testing.T) {
		f := newFixture()
		o, _, _ := paidOrder(uuid.Must(uuid.NewV4()))
		o.State = order.StatePendiente
		o.OrderNumber = nil
		f.repo.On("GetByID", mock.Anything, o.ID).Return(o, nil).Once()

		_, err := f.svc.Invoice(context.Background(), o.ID, operator)

		assert.ErrorIs(t, err, apperr.ErrConflict)
	})
}

func TestTotal(t *testing.T) {
	got := order.Total(decimal.RequireFromString("25"), decimal.RequireFromString("2.5"), decimal.RequireFromString("4.99"))
	assert.True(t, decimal.RequireFromString("27.49").Equal(got), "got %s", got)

	assert.True(t, order.Total(decimal.NewFromInt(5), decimal.NewFromInt(10), decimal.Zero).IsZero())
}
