package order_test

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/storefront/internal/document"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/stock"
)

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderRepository) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	return m.Called(ctx, id, sessionID).Error(0)
}

func (m *MockOrderRepository) UpdateState(ctx context.Context, id uuid.UUID, from, to order.State, at time.Time) (bool, error) {
	args := m.Called(ctx, id, from, to, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) MarkPaid(ctx context.Context, sessionID string, number int64, paymentRef string, paidAt time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, number, paymentRef, paidAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) MarkReserved(ctx context.Context, itemID uuid.UUID, qty int) error {
	return m.Called(ctx, itemID, qty).Error(0)
}

func (m *MockOrderRepository) InsertHistory(ctx context.Context, h order.History) error {
	return m.Called(ctx, h).Error(0)
}

func (m *MockOrderRepository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]order.History, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.History), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CheckAvailability(ctx context.Context, productID uuid.UUID, qty int) (stock.Availability, error) {
	args := m.Called(ctx, productID, qty)
	return args.Get(0).(stock.Availability), args.Error(1)
}

func (m *MockLedger) Reserve(ctx context.Context, productID uuid.UUID, qty int) (int, error) {
	args := m.Called(ctx, productID, qty)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) Restore(ctx context.Context, productID uuid.UUID, qty int) (int, error) {
	args := m.Called(ctx, productID, qty)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]stock.Product, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(map[uuid.UUID]stock.Product), args.Error(1)
}

func (m *MockLedger) HeldQuantities(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(map[uuid.UUID]int), args.Error(1)
}

func (m *MockLedger) PlaceHolds(ctx context.Context, orderID uuid.UUID, lines []stock.Line, ttl time.Duration) error {
	return m.Called(ctx, orderID, lines, ttl).Error(0)
}

func (m *MockLedger) ReleaseHolds(ctx context.Context, orderID uuid.UUID) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *MockLedger) SweepExpiredHolds(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendOrderConfirmation(ctx context.Context, msg notify.OrderMessage) bool {
	return m.Called(ctx, msg).Bool(0)
}

func (m *MockNotifier) SendOperatorNewOrder(ctx context.Context, msg notify.OrderMessage) bool {
	return m.Called(ctx, msg).Bool(0)
}

func (m *MockNotifier) SendStatusUpdate(ctx context.Context, msg notify.StatusMessage) bool {
	return m.Called(ctx, msg).Bool(0)
}

func (m *MockNotifier) SendReturnUpdate(ctx context.Context, msg notify.ReturnMessage) bool {
	return m.Called(ctx, msg).Bool(0)
}

type MockPreferences struct {
	mock.Mock
}

func (m *MockPreferences) WantsNotifications(ctx context.Context, userID uuid.NullUUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateInvoice(ctx context.Context, o document.Order) ([]byte, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockGenerator) GenerateRefundDocument(ctx context.Context, r document.Refund) ([]byte, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
