// Package notify turns customer and operator notifications into outbox events.
// Delivery (email rendering, attachments upload) is done by the consumer of the
// notifications topic.
package notify

import (
	"context"
	"encoding/json"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
)

const (
	EventOrderConfirmation = "order.confirmation"
	EventOperatorNewOrder  = "order.operator_new_order"
	EventStatusUpdate      = "order.status_update"
	EventReturnUpdate      = "return.status_update"
)

type ItemLine struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderMessage struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber int64           `json:"order_number"`
	Email       string          `json:"email"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Shipping    decimal.Decimal `json:"shipping"`
	Total       decimal.Decimal `json:"total"`
	Items       []ItemLine      `json:"items"`
}

type StatusMessage struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   int64     `json:"order_number"`
	Email         string    `json:"email"`
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	Reason        string    `json:"reason,omitempty"`
}

type ReturnMessage struct {
	ReturnID       uuid.UUID        `json:"return_id"`
	OrderID        uuid.UUID        `json:"order_id"`
	OrderNumber    int64            `json:"order_number"`
	Email          string           `json:"email"`
	State          string           `json:"state"`
	ReturnLabel    string           `json:"return_label,omitempty"`
	RefundAmount   *decimal.Decimal `json:"refund_amount,omitempty"`
	Attachment     []byte           `json:"attachment,omitempty"`
	AttachmentName string           `json:"attachment_name,omitempty"`
}

// Notifier reports success as a bool and never returns an error; callers must
// not let a notification failure fail their operation.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, msg OrderMessage) bool
	SendOperatorNewOrder(ctx context.Context, msg OrderMessage) bool
	SendStatusUpdate(ctx context.Context, msg StatusMessage) bool
	SendReturnUpdate(ctx context.Context, msg ReturnMessage) bool
}

type outboxNotifier struct {
	store         outbox.Store
	operatorEmail string
}

// NewOutboxNotifier enqueues notifications on the transaction carried by ctx.
func NewOutboxNotifier(store outbox.Store, operatorEmail string) Notifier {
	return &outboxNotifier{store: store, operatorEmail: operatorEmail}
}

func (n *outboxNotifier) SendOrderConfirmation(ctx context.Context, msg OrderMessage) bool {
	return n.enqueue(ctx, "order", msg.OrderID.String(), EventOrderConfirmation, msg)
}

func (n *outboxNotifier) SendOperatorNewOrder(ctx context.Context, msg OrderMessage) bool {
	if n.operatorEmail == "" {
		log.Debug().Stringer("order_id", msg.OrderID).Msg("notify: no operator email configured, skipping")
		return true
	}
	msg.Email = n.operatorEmail
	return n.enqueue(ctx, "order", msg.OrderID.String(), EventOperatorNewOrder, msg)
}

func (n *outboxNotifier) SendStatusUpdate(ctx context.Context, msg StatusMessage) bool {
	return n.enqueue(ctx, "order", msg.OrderID.String(), EventStatusUpdate, msg)
}

func (n *outboxNotifier) SendReturnUpdate(ctx context.Context, msg ReturnMessage) bool {
	return n.enqueue(ctx, "return", msg.ReturnID.String(), EventReturnUpdate, msg)
}

func (n *outboxNotifier) enqueue(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("notify: failed to encode notification")
		return false
	}

	err = n.store.Enqueue(ctx, outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       data,
	})
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Str("aggregate_id", aggregateID).Msg("notify: failed to enqueue notification")
		return false
	}
	return true
}
