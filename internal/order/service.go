package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/document"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/stock"
)

// Preferences answers whether the owner of an order wants status emails.
type Preferences interface {
	WantsNotifications(ctx context.Context, userID uuid.NullUUID) (bool, error)
}

type TransitionRequest struct {
	OrderID uuid.UUID
	To      State
	By      Viewer
	Reason  string
	// Quiet suppresses the customer notification, e.g. when the system drops a
	// checkout the customer never paid for.
	Quiet bool
}

type TransitionResult struct {
	Order   *Order `json:"order"`
	Changed bool   `json:"changed"`
	// RestoredItems counts order items whose stock was given back.
	RestoredItems int  `json:"restored_items"`
	Notified      bool `json:"notified"`
}

type Service interface {
	Get(ctx context.Context, id uuid.UUID, by Viewer) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	History(ctx context.Context, id uuid.UUID, by Viewer) ([]History, error)
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	Cancel(ctx context.Context, id uuid.UUID, by Viewer, reason string) (*TransitionResult, error)
	Invoice(ctx context.Context, id uuid.UUID, by Viewer) ([]byte, error)
}

type service struct {
	repo     Repository
	tx       db.Transactor
	ledger   stock.Ledger
	notifier notify.Notifier
	prefs    Preferences
	docs     document.Generator
	now      func() time.Time
}

func NewService(repo Repository, tx db.Transactor, ledger stock.Ledger, notifier notify.Notifier, prefs Preferences, docs document.Generator) Service {
	return &service{
		repo:     repo,
		tx:       tx,
		ledger:   ledger,
		notifier: notifier,
		prefs:    prefs,
		docs:     docs,
		now:      time.Now,
	}
}

func (s *service) Get(ctx context.Context, id uuid.UUID, by Viewer) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}

		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	if !by.CanSee(o) {
		return nil, fmt.Errorf("service: order %s belongs to another customer: %w", id, apperr.ErrForbidden)
	}
	return o, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) History(ctx context.Context, id uuid.UUID, by Viewer) ([]History, error) {
	if _, err := s.Get(ctx, id, by); err != nil {
		return nil, err
	}

	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order history")
		return nil, fmt.Errorf("service: failed to fetch order history: %w", err)
	}
	return history, nil
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, by Viewer, reason string) (*TransitionResult, error) {
	return s.Transition(ctx, TransitionRequest{OrderID: id, To: StateCancelado, By: by, Reason: reason})
}

func (s *service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	current, err := s.Get(ctx, req.OrderID, req.By)
	if err != nil {
		return nil, err
	}
	if current.State == req.To {
		log.Info().Stringer("order_id", current.ID).Stringer("state", req.To).Msg("service: order state is already the same, no update needed")
		return &TransitionResult{Order: current}, nil
	}

	if err := CheckTransition(current.State, req.To, req.By.Actor); err != nil {
		log.Warn().
			Err(err).
			Stringer("order_id", current.ID).
			Stringer("current_state", current.State).
			Stringer("new_state", req.To).
			Str("actor", string(req.By.Actor)).
			Msg("service: invalid state transition attempt")
		return nil, err
	}

	from := current.State
	at := s.now().UTC()
	result := &TransitionResult{Order: current, Changed: true}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.UpdateState(ctx, current.ID, from, req.To, at)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStateChanged
		}

		// All restorations share the state flip's transaction; any failure
		// leaves the order untouched. Lines short at payment never took stock.
		if req.To == StateCancelado && from.Stocked() {
			for _, item := range current.Items {
				if item.ReservedQuantity <= 0 {
					continue
				}
				if _, err := s.ledger.Restore(ctx, item.ProductID, item.ReservedQuantity); err != nil {
					return fmt.Errorf("service: failed to restore stock for product %s: %w", item.ProductID, err)
				}
				result.RestoredItems++
			}
		}

		prev := from
		if err := s.repo.InsertHistory(ctx, History{
			OrderID:       current.ID,
			PreviousState: &prev,
			NewState:      req.To,
			Actor:         req.By.Actor,
			Reason:        req.Reason,
		}); err != nil {
			return err
		}

		if !req.Quiet && s.wantsNotification(ctx, current) {
			result.Notified = s.notifier.SendStatusUpdate(ctx, notify.StatusMessage{
				OrderID:       current.ID,
				OrderNumber:   current.Number(),
				Email:         current.CustomerEmail,
				PreviousState: from.String(),
				NewState:      req.To.String(),
				Reason:        req.Reason,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			log.Warn().Stringer("order_id", current.ID).Stringer("expected_state", from).Msg("service: order state changed concurrently")
			return nil, ErrStateChanged
		}
		log.Error().Err(err).Stringer("order_id", current.ID).Stringer("new_state", req.To).Msg("service: failed to update order state")
		return nil, fmt.Errorf("service: failed to update order state: %w", err)
	}

	if req.To == StateCancelado && from == StatePendiente {
		if err := s.ledger.ReleaseHolds(ctx, current.ID); err != nil {
			// Unreleased holds expire on their own.
			log.Warn().Err(err).Stringer("order_id", current.ID).Msg("service: failed to release holds of cancelled order")
		}
	}

	current.State = req.To
	current.UpdatedAt = at
	if req.To == StateEntregado {
		current.DeliveredAt = &at
	}

	log.Info().
		Stringer("order_id", current.ID).
		Stringer("old_state", from).
		Stringer("new_state", req.To).
		Int("restored_items", result.RestoredItems).
		Msg("service: order state updated successfully")
	return result, nil
}

func (s *service) wantsNotification(ctx context.Context, o *Order) bool {
	if s.prefs == nil {
		return true
	}
	ok, err := s.prefs.WantsNotifications(ctx, o.UserID)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("service: could not read notification preference, skipping notification")
		return false
	}
	return ok
}

func (s *service) Invoice(ctx context.Context, id uuid.UUID, by Viewer) ([]byte, error) {
	o, err := s.Get(ctx, id, by)
	if err != nil {
		return nil, err
	}
	if o.OrderNumber == nil {
		return nil, apperr.Conflict("order %s has not been paid", id)
	}

	doc, err := s.docs.GenerateInvoice(ctx, ToDocument(o))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to generate invoice")
		return nil, fmt.Errorf("service: failed to generate invoice: %w", err)
	}
	return doc, nil
}

// ToDocument maps an order to the document generator's input.
func ToDocument(o *Order) document.Order {
	lines := make([]document.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, document.Line{
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			LineSubtotal: it.LineSubtotal,
		})
	}
	return document.Order{
		OrderID:     o.ID,
		OrderNumber: o.Number(),
		Email:       o.CustomerEmail,
		PaidAt:      o.PaidAt,
		Subtotal:    o.Subtotal,
		Discount:    o.Discount,
		Shipping:    o.Shipping,
		Total:       o.Total,
		Lines:       lines,
	}
}

// NotificationFor builds the order confirmation message.
func NotificationFor(o *Order) notify.OrderMessage {
	items := make([]notify.ItemLine, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, notify.ItemLine{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return notify.OrderMessage{
		OrderID:     o.ID,
		OrderNumber: o.Number(),
		Email:       o.CustomerEmail,
		Subtotal:    o.Subtotal,
		Discount:    o.Discount,
		Shipping:    o.Shipping,
		Total:       o.Total,
		Items:       items,
	}
}
