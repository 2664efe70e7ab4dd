package http_test

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/checkout"
	"github.com/vasiliy-maslov/storefront/internal/coupon"
	httphandler "github.com/vasiliy-maslov/storefront/internal/handler/http"
	"github.com/vasiliy-maslov/storefront/internal/idempotency"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/returns"
)

type routes interface {
	RegisterRoutes(router chi.Router)
}

func newRouter(h routes) *chi.Mux {
	r := chi.NewRouter()
	r.Use(httphandler.Identify)
	h.RegisterRoutes(r)
	return r
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Get(ctx context.Context, id uuid.UUID, by order.Viewer) (*order.Order, error) {
	args := m.Called(ctx, id, by)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) History(ctx context.Context, id uuid.UUID, by order.Viewer) ([]order.History, error) {
	args := m.Called(ctx, id, by)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.History), args.Error(1)
}

func (m *MockOrderService) Transition(ctx context.Context, req order.TransitionRequest) (*order.TransitionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.TransitionResult), args.Error(1)
}

func (m *MockOrderService) Cancel(ctx context.Context, id uuid.UUID, by order.Viewer, reason string) (*order.TransitionResult, error) {
	args := m.Called(ctx, id, by, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.TransitionResult), args.Error(1)
}

func (m *MockOrderService) Invoice(ctx context.Context, id uuid.UUID, by order.Viewer) ([]byte, error) {
	args := m.Called(ctx, id, by)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) Confirm(ctx context.Context, sessionID string) (*payment.Result, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Result), args.Error(1)
}

func (m *MockPaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*payment.Result, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Result), args.Error(1)
}

type MockReturnService struct {
	mock.Mock
}

func (m *MockReturnService) Create(ctx context.Context, req returns.CreateRequest) (*returns.Request, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*returns.Request), args.Error(1)
}

func (m *MockReturnService) Get(ctx context.Context, id uuid.UUID, by order.Viewer) (*returns.Request, error) {
	args := m.Called(ctx, id, by)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*returns.Request), args.Error(1)
}

func (m *MockReturnService) ListByOrder(ctx context.Context, orderID uuid.UUID, by order.Viewer) ([]returns.Request, error) {
	args := m.Called(ctx, orderID, by)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]returns.Request), args.Error(1)
}

func (m *MockReturnService) UpdateStatus(ctx context.Context, req returns.UpdateRequest) (*returns.Request, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*returns.Request), args.Error(1)
}

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*cart.Cart, error) {
	args := m.Called(ctx, userID, productID, qty)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) Get(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) Clear(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

type MockCouponService struct {
	mock.Mock
}

func (m *MockCouponService) Validate(ctx context.Context, code string, userID uuid.NullUUID, subtotal decimal.Decimal) (coupon.Validation, error) {
	args := m.Called(ctx, code, userID, subtotal)
	return args.Get(0).(coupon.Validation), args.Error(1)
}

func (m *MockCouponService) Redeem(ctx context.Context, req coupon.RedeemRequest) error {
	return m.Called(ctx, req).Error(0)
}

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Begin(ctx context.Context, scope, key string) (*idempotency.Response, error) {
	args := m.Called(ctx, scope, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Response), args.Error(1)
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, scope, key string, resp idempotency.Response) error {
	return m.Called(ctx, scope, key, resp).Error(0)
}

func (m *MockIdempotencyStore) Abort(ctx context.Context, scope, key string) error {
	return m.Called(ctx, scope, key).Error(0)
}
