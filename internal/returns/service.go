package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/document"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/stock"
)

var tracer = otel.Tracer("storefront/returns")

var (
	ErrNotDelivered = fmt.Errorf("order has not been delivered: %w", apperr.ErrConflict)
	ErrWindowClosed = fmt.Errorf("return window has closed: %w", apperr.ErrConflict)
)

type Refunder interface {
	CreateRefund(ctx context.Context, req payment.RefundRequest) (*payment.Refund, error)
}

// OrderReader is the part of the order store the workflow reads.
type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

type CreateRequest struct {
	OrderID      uuid.UUID
	By           order.Viewer
	Reason       string
	RefundAmount *decimal.Decimal
}

type UpdateRequest struct {
	ReturnID     uuid.UUID
	To           State
	By           order.Viewer
	ReturnLabel  string
	RefundAmount *decimal.Decimal
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Request, error)
	Get(ctx context.Context, id uuid.UUID, by order.Viewer) (*Request, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID, by order.Viewer) ([]Request, error)
	UpdateStatus(ctx context.Context, req UpdateRequest) (*Request, error)
}

type service struct {
	repo     Repository
	orders   OrderReader
	tx       db.Transactor
	ledger   stock.Ledger
	refunds  Refunder
	notifier notify.Notifier
	docs     document.Generator
	window   time.Duration
	now      func() time.Time
}

func NewService(repo Repository, orders OrderReader, tx db.Transactor, ledger stock.Ledger, refunds Refunder, notifier notify.Notifier, docs document.Generator, windowDays int) Service {
	return &service{
		repo:     repo,
		orders:   orders,
		tx:       tx,
		ledger:   ledger,
		refunds:  refunds,
		notifier: notifier,
		docs:     docs,
		window:   time.Duration(windowDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Request, error) {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !req.By.CanSee(o) {
		log.Warn().Stringer("order_id", o.ID).Msg("service: return requested for an order the customer does not own")
		return nil, fmt.Errorf("order %s belongs to another customer: %w", o.ID, apperr.ErrForbidden)
	}

	if o.State != order.StateEntregado {
		return nil, fmt.Errorf("%w: order %s is %s", ErrNotDelivered, o.ID, o.State)
	}
	if o.DeliveredAt == nil || s.now().After(o.DeliveredAt.Add(s.window)) {
		return nil, fmt.Errorf("%w: order %s", ErrWindowClosed, o.ID)
	}
	if req.RefundAmount != nil {
		if err := checkRefundAmount(*req.RefundAmount, o.Total); err != nil {
			return nil, err
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate return ID: %w", err)
	}
	r := &Request{
		ID:           id,
		OrderID:      o.ID,
		State:        StateSolicitada,
		Reason:       strings.TrimSpace(req.Reason),
		RefundAmount: req.RefundAmount,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, r); err != nil {
			return err
		}
		s.notify(ctx, o, r, nil)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOpenReturnExists) {
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to create return request")
		return nil, fmt.Errorf("service: failed to create return request: %w", err)
	}

	log.Info().Stringer("return_id", r.ID).Stringer("order_id", o.ID).Msg("service: return requested")
	return r, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, by order.Viewer) (*Request, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, r.OrderID)
	if err != nil {
		return nil, err
	}
	if !by.CanSee(o) {
		return nil, ErrReturnNotFound
	}
	return r, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID, by order.Viewer) ([]Request, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.CanSee(o) {
		return nil, order.ErrOrderNotFound
	}
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *service) UpdateStatus(ctx context.Context, req UpdateRequest) (result *Request, err error) {
	ctx, span := tracer.Start(ctx, "returns.UpdateStatus")
	span.SetAttributes(attribute.String("return.id", req.ReturnID.String()), attribute.String("return.to", req.To.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.By.Actor != order.ActorOperator && req.By.Actor != order.ActorSystem {
		return nil, fmt.Errorf("only operators may change return status: %w", apperr.ErrForbidden)
	}
	if !req.To.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown return state %q", req.To))
	}

	r, err := s.repo.GetByID(ctx, req.ReturnID)
	if err != nil {
		return nil, err
	}
	if r.State == req.To {
		log.Info().Stringer("return_id", r.ID).Stringer("state", r.State).Msg("service: return state is already the same, no update needed")
		return r, nil
	}
	if !CanTransition(r.State, req.To) {
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, r.State, req.To)
	}

	o, err := s.orders.GetByID(ctx, r.OrderID)
	if err != nil {
		return nil, err
	}

	var (
		changes    Changes
		attachment *refundDocument
	)
	switch req.To {
	case StateAprobada:
		label := strings.TrimSpace(req.ReturnLabel)
		if label == "" {
			label = defaultLabel(r.ID)
		}
		changes.ReturnLabel = &label
	case StateReembolsada:
		refund, amount, err := s.refund(ctx, o, r, req.RefundAmount)
		if err != nil {
			return nil, err
		}
		changes.RefundAmount = &amount
		changes.RefundID = &refund.ID
		attachment = s.refundDocument(ctx, o, r, refund.ID, amount)
	}

	from := r.State
	at := s.now().UTC()
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.UpdateState(ctx, r.ID, from, req.To, changes, at)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStateChanged
		}

		if req.To == StateProductoRecibido {
			for _, item := range o.Items {
				if item.ReservedQuantity <= 0 {
					continue
				}
				if _, err := s.ledger.Restore(ctx, item.ProductID, item.ReservedQuantity); err != nil {
					return fmt.Errorf("service: failed to restore stock for product %s: %w", item.ProductID, err)
				}
			}
		}

		r.State = req.To
		r.UpdatedAt = at
		if changes.ReturnLabel != nil {
			r.ReturnLabel = *changes.ReturnLabel
		}
		if changes.RefundAmount != nil {
			r.RefundAmount = changes.RefundAmount
		}
		if changes.RefundID != nil {
			r.RefundID = *changes.RefundID
		}
		s.notify(ctx, o, r, attachment)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			log.Warn().Stringer("return_id", r.ID).Stringer("expected_state", from).Msg("service: return state changed concurrently")
			return nil, err
		}
		log.Error().Err(err).Stringer("return_id", r.ID).Stringer("new_state", req.To).Msg("service: failed to update return state")
		return nil, fmt.Errorf("service: failed to update return state: %w", err)
	}

	log.Info().
		Stringer("return_id", r.ID).
		Stringer("old_state", from).
		Stringer("new_state", req.To).
		Msg("service: return state updated successfully")
	return r, nil
}

// refund calls the gateway first; nothing local changes unless it succeeds.
func (s *service) refund(ctx context.Context, o *order.Order, r *Request, requested *decimal.Decimal) (*payment.Refund, decimal.Decimal, error) {
	amount := o.Total
	switch {
	case requested != nil:
		amount = *requested
	case r.RefundAmount != nil:
		amount = *r.RefundAmount
	}
	amount = amount.Round(2)
	if err := checkRefundAmount(amount, o.Total); err != nil {
		return nil, decimal.Zero, err
	}
	if o.PaymentReference == "" {
		return nil, decimal.Zero, fmt.Errorf("order %s has no payment reference to refund: %w", o.ID, apperr.ErrInternal)
	}

	refund, err := s.refunds.CreateRefund(ctx, payment.RefundRequest{
		PaymentReference: o.PaymentReference,
		Amount:           amount,
		IdempotencyKey:   "refund-" + r.ID.String(),
	})
	if err != nil {
		log.Error().Err(err).Stringer("return_id", r.ID).Stringer("order_id", o.ID).Msg("service: refund call failed, return state unchanged")
		return nil, decimal.Zero, apperr.Gateway("service: create refund", err)
	}

	log.Info().Stringer("return_id", r.ID).Str("refund_id", refund.ID).Str("amount", amount.StringFixed(2)).Msg("service: refund issued")
	return refund, amount, nil
}

type refundDocument struct {
	content []byte
	name    string
}

func (s *service) refundDocument(ctx context.Context, o *order.Order, r *Request, refundID string, amount decimal.Decimal) *refundDocument {
	if s.docs == nil {
		return nil
	}
	content, err := s.docs.GenerateRefundDocument(ctx, document.Refund{
		Order:        order.ToDocument(o),
		ReturnID:     r.ID,
		RefundID:     refundID,
		RefundAmount: amount,
	})
	if err != nil {
		if !errors.Is(err, document.ErrDisabled) {
			log.Error().Err(err).Stringer("return_id", r.ID).Msg("service: failed to generate refund document")
		}
		return nil
	}
	return &refundDocument{content: content, name: fmt.Sprintf("abono-%d.pdf", o.Number())}
}

func (s *service) notify(ctx context.Context, o *order.Order, r *Request, doc *refundDocument) {
	msg := notify.ReturnMessage{
		ReturnID:     r.ID,
		OrderID:      o.ID,
		OrderNumber:  o.Number(),
		Email:        o.CustomerEmail,
		State:        r.State.String(),
		ReturnLabel:  r.ReturnLabel,
		RefundAmount: r.RefundAmount,
	}
	if doc != nil {
		msg.Attachment = doc.content
		msg.AttachmentName = doc.name
	}
	if !s.notifier.SendReturnUpdate(ctx, msg) {
		log.Warn().Stringer("return_id", r.ID).Stringer("state", r.State).Msg("service: return notification not queued")
	}
}

func checkRefundAmount(amount, total decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(total) {
		return apperr.Validation(
			fmt.Sprintf("refund amount must be greater than zero and at most %s", total.StringFixed(2)),
			apperr.Issue{Field: "refund_amount", Reason: "out_of_range"},
		)
	}
	return nil
}

func defaultLabel(id uuid.UUID) string {
	return "RET-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:10])
}
