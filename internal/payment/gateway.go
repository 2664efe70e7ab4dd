package payment

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

const (
	StatusPaid   = "paid"
	StatusUnpaid = "unpaid"

	EventSessionCompleted = "checkout.session.completed"
)

type LineItem struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type SessionRequest struct {
	LineItems     []LineItem
	Discount      decimal.Decimal
	Shipping      decimal.Decimal
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type SessionDetails struct {
	ID               string
	PaymentStatus    string
	AmountTotal      decimal.Decimal
	CustomerEmail    string
	PaymentReference string
	ShippingAddress  *order.Address
	Metadata         map[string]string
}

type RefundRequest struct {
	PaymentReference string
	Amount           decimal.Decimal
	IdempotencyKey   string
}

type Refund struct {
	ID     string
	Status string
}

type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Gateway is the payment provider. Every call is bounded by ctx and never
// retried here.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, id string) (*SessionDetails, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	// ParseWebhook verifies the signature and decodes the event.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
