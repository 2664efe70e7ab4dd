package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/coupon"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/stock"
)

var tracer = otel.Tracer("storefront/checkout")

const (
	IssueNotFound          = "not_found"
	IssueInactive          = "inactive"
	IssueInsufficientStock = "insufficient_stock"
)

type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type Request struct {
	UserID        uuid.NullUUID
	Email         string
	Items         []Line
	Address       order.Address
	CouponCode    string
	PaymentMethod string
}

type Result struct {
	Order      *order.Order `json:"order"`
	SessionID  string       `json:"session_id"`
	PaymentURL string       `json:"payment_url"`
	Quote      Quote        `json:"quote"`
}

type CouponValidator interface {
	Validate(ctx context.Context, code string, userID uuid.NullUUID, subtotal decimal.Decimal) (coupon.Validation, error)
}

type Transitioner interface {
	Transition(ctx context.Context, req order.TransitionRequest) (*order.TransitionResult, error)
}

type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	Pricing    Pricing
	HoldTTL    time.Duration
	SuccessURL string
	CancelURL  string
}

type service struct {
	ledger  stock.Ledger
	coupons CouponValidator
	orders  order.Repository
	states  Transitioner
	tx      db.Transactor
	gateway payment.Gateway
	cfg     Config
}

func NewService(ledger stock.Ledger, coupons CouponValidator, orders order.Repository, states Transitioner, tx db.Transactor, gateway payment.Gateway, cfg Config) Service {
	return &service{
		ledger:  ledger,
		coupons: coupons,
		orders:  orders,
		states:  states,
		tx:      tx,
		gateway: gateway,
		cfg:     cfg,
	}
}

func (s *service) Checkout(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.Checkout")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("checkout.lines", len(lines)))

	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	products, err := s.ledger.GetProducts(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to load checkout products")
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}
	held, err := s.ledger.HeldQuantities(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to load stock holds")
		return nil, fmt.Errorf("service: failed to load stock holds: %w", err)
	}

	if issues := checkLines(lines, products, held); len(issues) > 0 {
		log.Info().Int("issues", len(issues)).Msg("service: checkout rejected, cart has unavailable items")
		return nil, apperr.Validation("cart has unavailable items", issues...)
	}

	items := make([]order.Item, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		p := products[l.ProductID]
		lineSubtotal := order.LineSubtotal(p.Price, l.Quantity)
		subtotal = subtotal.Add(lineSubtotal)
		items = append(items, order.Item{
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			UnitPrice:    p.Price,
			LineSubtotal: lineSubtotal,
		})
	}

	quote, err := s.price(ctx, req, subtotal)
	if err != nil {
		return nil, err
	}

	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}
	o := &order.Order{
		ID:              orderID,
		State:           order.StatePendiente,
		Subtotal:        quote.Subtotal,
		Discount:        quote.Discount,
		Shipping:        quote.Shipping,
		Total:           quote.Total,
		CouponID:        quote.CouponID,
		UserID:          req.UserID,
		CustomerEmail:   req.Email,
		ShippingAddress: req.Address,
		Items:           items,
	}

	holds := make([]stock.Line, 0, len(lines))
	for _, l := range lines {
		holds = append(holds, stock.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return err
		}
		return s.ledger.PlaceHolds(ctx, o.ID, holds, s.cfg.HoldTTL)
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to create pending order")
		return nil, fmt.Errorf("service: failed to create pending order: %w", err)
	}

	session, err := s.openSession(ctx, o, quote, products)
	if err != nil {
		s.abandon(ctx, o.ID, "payment session could not be created")
		return nil, err
	}

	if err := s.orders.SetPaymentSession(ctx, o.ID, session.ID); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Str("session_id", session.ID).Msg("service: failed to store payment session")
		s.abandon(ctx, o.ID, "payment session could not be stored")
		return nil, fmt.Errorf("service: failed to store payment session: %w", err)
	}
	sid := session.ID
	o.PaymentSessionID = &sid

	log.Info().
		Stringer("order_id", o.ID).
		Str("session_id", session.ID).
		Str("total", quote.Total.StringFixed(2)).
		Msg("service: checkout session opened")

	return &Result{Order: o, SessionID: session.ID, PaymentURL: session.URL, Quote: quote}, nil
}

func (s *service) price(ctx context.Context, req Request, subtotal decimal.Decimal) (Quote, error) {
	code := coupon.NormalizeCode(req.CouponCode)
	if code == "" || s.cfg.Pricing.IsFreeShippingCode(code) {
		return s.cfg.Pricing.quote(subtotal, code, nil), nil
	}

	v, err := s.coupons.Validate(ctx, code, req.UserID, subtotal)
	if err != nil {
		return Quote{}, err
	}
	if !v.Valid {
		return Quote{}, &apperr.CouponInvalidError{Code: code, Reason: string(v.Reason)}
	}
	return s.cfg.Pricing.quote(subtotal, code, &v), nil
}

func (s *service) openSession(ctx context.Context, o *order.Order, quote Quote, products map[uuid.UUID]stock.Product) (*payment.Session, error) {
	snap := payment.CartSnapshot{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Email:      o.CustomerEmail,
		Discount:   quote.Discount,
		Shipping:   quote.Shipping,
		CouponID:   quote.CouponID,
		CouponCode: quote.CouponCode,
		Address:    o.ShippingAddress,
	}
	if !quote.CouponID.Valid {
		snap.CouponCode = ""
	}

	lineItems := make([]payment.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		snap.Items = append(snap.Items, payment.SnapshotItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
		lineItems = append(lineItems, payment.LineItem{Name: products[it.ProductID].Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}

	meta, err := snap.Encode()
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		LineItems:     lineItems,
		Discount:      quote.Discount,
		Shipping:      quote.Shipping,
		CustomerEmail: o.CustomerEmail,
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
		Metadata:      meta,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to create payment session")
		return nil, apperr.Gateway("service: create payment session", err)
	}
	return session, nil
}

// abandon cancels a pending order the customer can no longer pay. Its holds
// are released by the transition.
func (s *service) abandon(ctx context.Context, orderID uuid.UUID, reason string) {
	_, err := s.states.Transition(ctx, order.TransitionRequest{
		OrderID: orderID,
		To:      order.StateCancelado,
		By:      order.Viewer{Actor: order.ActorSystem},
		Reason:  reason,
		Quiet:   true,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to cancel abandoned checkout")
	}
}

func mergeLines(in []Line) ([]Line, error) {
	if len(in) == 0 {
		return nil, apperr.Validation("cart is empty")
	}

	qty := make(map[uuid.UUID]int, len(in))
	var seen []uuid.UUID
	for _, l := range in {
		if l.ProductID == uuid.Nil {
			return nil, apperr.Validation("product id is required", apperr.Issue{Field: "product_id", Reason: "required"})
		}
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity must be greater than zero", apperr.Issue{ProductID: l.ProductID.String(), Reason: "invalid_quantity", Requested: l.Quantity})
		}
		if _, ok := qty[l.ProductID]; !ok {
			seen = append(seen, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}

	out := make([]Line, 0, len(seen))
	for _, id := range seen {
		out = append(out, Line{ProductID: id, Quantity: qty[id]})
	}
	return out, nil
}

// checkLines reports every unavailable line, not just the first.
func checkLines(lines []Line, products map[uuid.UUID]stock.Product, held map[uuid.UUID]int) []apperr.Issue {
	var issues []apperr.Issue
	for _, l := range lines {
		p, ok := products[l.ProductID]
		switch {
		case !ok:
			issues = append(issues, apperr.Issue{ProductID: l.ProductID.String(), Reason: IssueNotFound, Requested: l.Quantity})
		case !p.Active:
			issues = append(issues, apperr.Issue{ProductID: l.ProductID.String(), Reason: IssueInactive, Requested: l.Quantity})
		default:
			available := max(p.Stock-held[l.ProductID], 0)
			if available < l.Quantity {
				issues = append(issues, apperr.Issue{
					ProductID: l.ProductID.String(),
					Reason:    IssueInsufficientStock,
					Requested: l.Quantity,
					Available: available,
				})
			}
		}
	}
	return issues
}

