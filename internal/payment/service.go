package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/coupon"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/stock"
)

// maxNumberAttempts bounds restarts caused by two confirmations allocating
// the same order number.
const maxNumberAttempts = 5

var tracer = otel.Tracer("storefront/payment")

// ErrUnmatchedPayment means a paid session points at a checkout whose order
// never recorded the session, typically one dropped after opening it.
var ErrUnmatchedPayment = fmt.Errorf("paid session has no matching order, operator follow-up required: %w", apperr.ErrConflict)

type Redeemer interface {
	Redeem(ctx context.Context, req coupon.RedeemRequest) error
}

type CartClearer interface {
	Clear(ctx context.Context, userID uuid.UUID) error
}

// EventLog remembers webhook deliveries already handled.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

type Shortfall struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

type Result struct {
	Order *order.Order `json:"order"`
	// Created is false when the order already existed for the session.
	Created         bool        `json:"created"`
	StockShortfalls []Shortfall `json:"stock_shortfalls,omitempty"`
}

type Service interface {
	Confirm(ctx context.Context, sessionID string) (*Result, error)
	// HandleWebhook verifies and applies a provider event. Events other than a
	// completed checkout return a nil result.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*Result, error)
}

type service struct {
	orders   order.Repository
	tx       db.Transactor
	gateway  Gateway
	ledger   stock.Ledger
	coupons  Redeemer
	carts    CartClearer
	notifier notify.Notifier
	events   EventLog
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Deps struct {
	Orders   order.Repository
	Tx       db.Transactor
	Gateway  Gateway
	Ledger   stock.Ledger
	Coupons  Redeemer
	Carts    CartClearer
	Notifier notify.Notifier
	Events   EventLog
	Metrics  *metrics.Metrics
}

func NewService(d Deps) Service {
	return &service{
		orders:   d.Orders,
		tx:       d.Tx,
		gateway:  d.Gateway,
		ledger:   d.Ledger,
		coupons:  d.Coupons,
		carts:    d.Carts,
		notifier: d.Notifier,
		events:   d.Events,
		metrics:  d.Metrics,
		now:      time.Now,
	}
}

func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return nil, apperr.Validation("invalid webhook signature or payload")
	}
	if event.Type != EventSessionCompleted {
		log.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("service: ignoring webhook event")
		return nil, nil
	}

	if s.events != nil {
		seen, err := s.events.Seen(ctx, event.ID)
		if err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("service: webhook event log unavailable")
		} else if seen {
			log.Info().Str("event_id", event.ID).Msg("service: webhook event already processed")
			return nil, nil
		}
	}

	res, err := s.Confirm(ctx, event.SessionID)
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		if err := s.events.MarkSeen(ctx, event.ID); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("service: failed to record webhook event")
		}
	}
	return res, nil
}

func (s *service) Confirm(ctx context.Context, sessionID string) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "payment.Confirm")
	span.SetAttributes(attribute.String("payment.session_id", sessionID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if sessionID == "" {
		return nil, apperr.Validation("session id is required")
	}

	existing, err := s.orders.GetBySessionID(ctx, sessionID)
	switch {
	case err == nil && existing.State != order.StatePendiente:
		s.metrics.Confirmation("duplicate")
		log.Info().Stringer("order_id", existing.ID).Str("session_id", sessionID).Msg("service: payment already confirmed")
		return &Result{Order: existing}, nil
	case err != nil && !errors.Is(err, order.ErrOrderNotFound):
		log.Error().Err(err).Str("session_id", sessionID).Msg("service: failed to look up order by session")
		return nil, fmt.Errorf("service: failed to look up order by session: %w", err)
	}

	details, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("service: failed to retrieve payment session")
		return nil, apperr.Gateway("service: retrieve session", err)
	}
	if details.PaymentStatus != StatusPaid {
		s.metrics.Confirmation("incomplete")
		return nil, fmt.Errorf("service: session %s has payment status %q: %w", sessionID, details.PaymentStatus, apperr.ErrPaymentIncomplete)
	}

	snap, err := DecodeSnapshot(details.Metadata)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("service: unusable session metadata")
		return nil, err
	}

	var (
		confirmed *order.Order
		won       bool
	)
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		confirmed, won, err = s.commitPaid(ctx, sessionID, existing, snap, details)
		if !errors.Is(err, order.ErrOrderNumberTaken) {
			break
		}
		log.Warn().Int("attempt", attempt).Str("session_id", sessionID).Msg("service: order number collision, retrying")
	}
	if err != nil && !errors.Is(err, order.ErrDuplicateSession) && !errors.Is(err, order.ErrOrderExists) {
		log.Error().Err(err).Str("session_id", sessionID).Msg("service: failed to commit paid order")
		return nil, fmt.Errorf("service: failed to commit paid order: %w", err)
	}

	if !won {
		// A concurrent trigger committed first, unless the order id is taken
		// by a checkout that never stored this session.
		stored, err := s.orders.GetBySessionID(ctx, sessionID)
		if errors.Is(err, order.ErrOrderNotFound) {
			s.metrics.Confirmation("unmatched")
			log.Error().
				Str("session_id", sessionID).
				Stringer("order_id", snap.OrderID).
				Str("payment_reference", details.PaymentReference).
				Msg("service: paid session matches no order, operator follow-up required")
			return nil, fmt.Errorf("service: session %s for order %s: %w", sessionID, snap.OrderID, ErrUnmatchedPayment)
		}
		if err != nil {
			return nil, fmt.Errorf("service: failed to read order confirmed concurrently: %w", err)
		}
		s.metrics.Confirmation("duplicate")
		return &Result{Order: stored}, nil
	}

	result = &Result{Order: confirmed, Created: true}
	result.StockShortfalls = s.afterCommit(ctx, confirmed, snap)

	s.metrics.Confirmation("created")
	log.Info().
		Stringer("order_id", confirmed.ID).
		Int64("order_number", confirmed.Number()).
		Int("shortfalls", len(result.StockShortfalls)).
		Msg("service: payment confirmed")
	return result, nil
}

// commitPaid writes the PAGADO order, its history row and the notification
// events in one transaction. won is false when another trigger got there
// first.
func (s *service) commitPaid(ctx context.Context, sessionID string, pending *order.Order, snap CartSnapshot, details *SessionDetails) (*order.Order, bool, error) {
	var (
		o   *order.Order
		won bool
	)

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		number, err := s.orders.NextOrderNumber(ctx)
		if err != nil {
			return err
		}
		paidAt := s.now().UTC()

		var prev *order.State
		if pending != nil {
			ok, err := s.orders.MarkPaid(ctx, sessionID, number, details.PaymentReference, paidAt)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			o = pending
			o.State = order.StatePagado
			o.OrderNumber = &number
			o.PaymentReference = details.PaymentReference
			o.PaidAt = &paidAt
			p := order.StatePendiente
			prev = &p
		} else {
			o = orderFromSnapshot(snap, sessionID, details, number, paidAt)
			if err := s.orders.Create(ctx, o); err != nil {
				return err
			}
		}

		if err := s.orders.InsertHistory(ctx, order.History{
			OrderID:       o.ID,
			PreviousState: prev,
			NewState:      order.StatePagado,
			Actor:         order.ActorSystem,
			Reason:        "payment confirmed",
		}); err != nil {
			return err
		}

		msg := order.NotificationFor(o)
		if !s.notifier.SendOrderConfirmation(ctx, msg) {
			log.Warn().Stringer("order_id", o.ID).Msg("service: order confirmation notification not queued")
		}
		if !s.notifier.SendOperatorNewOrder(ctx, msg) {
			log.Warn().Stringer("order_id", o.ID).Msg("service: operator notification not queued")
		}

		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return o, won, nil
}

func orderFromSnapshot(snap CartSnapshot, sessionID string, details *SessionDetails, number int64, paidAt time.Time) *order.Order {
	items := make([]order.Item, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, order.Item{
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			LineSubtotal: order.LineSubtotal(it.UnitPrice, it.Quantity),
		})
	}

	email := snap.Email
	if email == "" {
		email = details.CustomerEmail
	}
	addr := snap.Address
	if details.ShippingAddress != nil && addr.Line1 == "" {
		addr = *details.ShippingAddress
	}

	subtotal := snap.Subtotal()
	sid := sessionID
	return &order.Order{
		ID:               snap.OrderID,
		OrderNumber:      &number,
		State:            order.StatePagado,
		PaymentSessionID: &sid,
		PaymentReference: details.PaymentReference,
		Subtotal:         subtotal,
		Discount:         snap.Discount,
		Shipping:         snap.Shipping,
		Total:            order.Total(subtotal, snap.Discount, snap.Shipping),
		CouponID:         snap.CouponID,
		UserID:           snap.UserID,
		CustomerEmail:    email,
		ShippingAddress:  addr,
		Items:            items,
		PaidAt:           &paidAt,
	}
}

// afterCommit runs the steps that must not undo a committed payment. Each
// failure is logged and the caller continues.
func (s *service) afterCommit(ctx context.Context, o *order.Order, snap CartSnapshot) []Shortfall {
	var shortfalls []Shortfall

	for i := range o.Items {
		item := &o.Items[i]
		// The reservation and its record commit together so a later
		// cancellation gives back exactly what was taken.
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
			return s.orders.MarkReserved(ctx, item.ID, item.Quantity)
		})
		if err == nil {
			item.ReservedQuantity = item.Quantity
			continue
		}

		s.metrics.StockShortfall()
		log.Error().
			Err(err).
			Stringer("order_id", o.ID).
			Stringer("product_id", item.ProductID).
			Int("quantity", item.Quantity).
			Msg("service: stock shortfall after payment, operator follow-up required")
		shortfalls = append(shortfalls, Shortfall{ProductID: item.ProductID, Quantity: item.Quantity, Reason: err.Error()})
	}

	if snap.CouponID.Valid && snap.CouponCode != "" {
		err := s.coupons.Redeem(ctx, coupon.RedeemRequest{
			Code:     snap.CouponCode,
			UserID:   o.UserID,
			OrderID:  o.ID,
			Discount: o.Discount,
		})
		if err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Str("code", snap.CouponCode).Msg("service: failed to redeem coupon after payment")
		}
	}

	if o.UserID.Valid {
		if err := s.carts.Clear(ctx, o.UserID.UUID); err != nil {
			log.Warn().Err(err).Stringer("user_id", o.UserID.UUID).Msg("service: failed to clear cart after payment")
		}
	}

	if err := s.ledger.ReleaseHolds(ctx, o.ID); err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("service: failed to release holds after payment")
	}

	return shortfalls
}
