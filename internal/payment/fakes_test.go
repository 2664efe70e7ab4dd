package payment_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/storefront/internal/coupon"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/stock"
)

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memOrders mimics the uniqueness guarantees of the orders table.
type memOrders struct {
	mu             sync.Mutex
	orders         map[uuid.UUID]*order.Order
	history        []order.History
	numberConflict int
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[uuid.UUID]*order.Order{}}
}

func clone(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.Item(nil), o.Items...)
	return &c
}

func (r *memOrders) numberTaken(n int64) bool {
	for _, o := range r.orders {
		if o.OrderNumber != nil && *o.OrderNumber == n {
			return true
		}
	}
	return false
}

func (r *memOrders) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return order.ErrOrderExists
	}
	for _, existing := range r.orders {
		if existing.PaymentSessionID != nil && o.PaymentSessionID != nil && *existing.PaymentSessionID == *o.PaymentSessionID {
			return order.ErrDuplicateSession
		}
	}
	if o.OrderNumber != nil && r.numberTaken(*o.OrderNumber) {
		return order.ErrOrderNumberTaken
	}
	for i := range o.Items {
		if o.Items[i].ID == uuid.Nil {
			o.Items[i].ID = uuid.Must(uuid.NewV4())
		}
		o.Items[i].OrderID = o.ID
	}
	r.orders[o.ID] = clone(o)
	return nil
}

func (r *memOrders) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return clone(o), nil
}

func (r *memOrders) GetBySessionID(_ context.Context, sessionID string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PaymentSessionID != nil && *o.PaymentSessionID == sessionID {
			return clone(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r *memOrders) ListByUser(context.Context, uuid.UUID) ([]order.Order, error) {
	return nil, errors.New("not implemented")
}

func (r *memOrders) SetPaymentSession(_ context.Context, id uuid.UUID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.PaymentSessionID = &sessionID
	return nil
}

func (r *memOrders) UpdateState(context.Context, uuid.UUID, order.State, order.State, time.Time) (bool, error) {
	return false, errors.New("not implemented")
}

func (r *memOrders) MarkPaid(_ context.Context, sessionID string, number int64, ref string, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PaymentSessionID == nil || *o.PaymentSessionID != sessionID || o.State != order.StatePendiente {
			continue
		}
		if r.numberConflict > 0 {
			r.numberConflict--
			return false, order.ErrOrderNumberTaken
		}
		if r.numberTaken(number) {
			return false, order.ErrOrderNumberTaken
		}
		o.State = order.StatePagado
		o.OrderNumber = &number
		o.PaymentReference = ref
		o.PaidAt = &paidAt
		return true, nil
	}
	return false, nil
}

func (r *memOrders) NextOrderNumber(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	for _, o := range r.orders {
		if o.OrderNumber != nil && *o.OrderNumber > max {
			max = *o.OrderNumber
		}
	}
	return max + 1, nil
}

func (r *memOrders) MarkReserved(_ context.Context, itemID uuid.UUID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].ReservedQuantity = qty
				return nil
			}
		}
	}
	return order.ErrOrderNotFound
}

// reservedFor returns the recorded reservation per product of an order.
func (r *memOrders) reservedFor(orderID uuid.UUID) map[uuid.UUID]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[uuid.UUID]int{}
	for _, it := range r.orders[orderID].Items {
		out[it.ProductID] = it.ReservedQuantity
	}
	return out
}

func (r *memOrders) InsertHistory(_ context.Context, h order.History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, h)
	return nil
}

func (r *memOrders) ListHistory(context.Context, uuid.UUID) ([]order.History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]order.History(nil), r.history...), nil
}

func (r *memOrders) paidCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.orders {
		if o.State == order.StatePagado {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	details     *payment.SessionDetails
	retrieveErr error
	event       *payment.WebhookEvent
	parseErr    error

	mu         sync.Mutex
	retrievals int
}

func (g *fakeGateway) CreateSession(context.Context, payment.SessionRequest) (*payment.Session, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) RetrieveSession(_ context.Context, _ string) (*payment.SessionDetails, error) {
	g.mu.Lock()
	g.retrievals++
	g.mu.Unlock()
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	return g.details, nil
}

func (g *fakeGateway) CreateRefund(context.Context, payment.RefundRequest) (*payment.Refund, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*payment.WebhookEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.event, nil
}

type fakeLedger struct {
	stock.Ledger

	mu         sync.Mutex
	reserved   map[uuid.UUID]int
	released   []uuid.UUID
	reserveErr map[uuid.UUID]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{reserved: map[uuid.UUID]int{}, reserveErr: map[uuid.UUID]error{}}
}

func (l *fakeLedger) Reserve(_ context.Context, productID uuid.UUID, qty int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.reserveErr[productID]; err != nil {
		return 0, err
	}
	l.reserved[productID] += qty
	return 100 - l.reserved[productID], nil
}

func (l *fakeLedger) ReleaseHolds(_ context.Context, orderID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, orderID)
	return nil
}

type fakeRedeemer struct {
	mu       sync.Mutex
	requests []coupon.RedeemRequest
}

func (f *fakeRedeemer) Redeem(_ context.Context, req coupon.RedeemRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

type fakeCarts struct {
	mu      sync.Mutex
	cleared []uuid.UUID
}

func (f *fakeCarts) Clear(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	confirmations []notify.OrderMessage
	operator      []notify.OrderMessage
}

func (n *fakeNotifier) SendOrderConfirmation(_ context.Context, msg notify.OrderMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, msg)
	return true
}

func (n *fakeNotifier) SendOperatorNewOrder(_ context.Context, msg notify.OrderMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operator = append(n.operator, msg)
	return true
}

func (n *fakeNotifier) SendStatusUpdate(context.Context, notify.StatusMessage) bool { return true }

func (n *fakeNotifier) SendReturnUpdate(context.Context, notify.ReturnMessage) bool { return true }

type memEventLog struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (l *memEventLog) Seen(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[id], nil
}

func (l *memEventLog) MarkSeen(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[id] = true
	return nil
}
