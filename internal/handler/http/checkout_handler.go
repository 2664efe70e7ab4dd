package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/checkout"
	"github.com/vasiliy-maslov/storefront/internal/idempotency"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key string) (*idempotency.Response, error)
	Complete(ctx context.Context, scope, key string, resp idempotency.Response) error
	Abort(ctx context.Context, scope, key string) error
}

type AddressRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone" validate:"max=30"`
}

type CheckoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gte=1,lte=100"`
}

type CheckoutRequest struct {
	Email           string                `json:"email" validate:"required,email"`
	Items           []CheckoutItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress AddressRequest        `json:"shipping_address"`
	CouponCode      string                `json:"coupon_code" validate:"max=64"`
	PaymentMethod   string                `json:"payment_method" validate:"omitempty,oneof=card"`
}

type CheckoutResponse struct {
	OrderID      uuid.UUID       `json:"order_id"`
	SessionID    string          `json:"session_id"`
	PaymentURL   string          `json:"payment_url"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Shipping     decimal.Decimal `json:"shipping"`
	Total        decimal.Decimal `json:"total"`
	FreeShipping bool            `json:"free_shipping"`
}

type CheckoutHandler struct {
	service  checkout.Service
	keys     IdempotencyStore
	validate *validator.Validate
}

// NewCheckoutHandler builds the handler. keys may be nil, in which case the
// Idempotency-Key header is ignored.
func NewCheckoutHandler(service checkout.Service, keys IdempotencyStore) *CheckoutHandler {
	return &CheckoutHandler{
		service:  service,
		keys:     keys,
		validate: validator.New(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	viewer := viewerFrom(r.Context())
	scope, key := "checkout:guest", strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if viewer.UserID.Valid {
		scope = "checkout:" + viewer.UserID.UUID.String()
	}

	claimed := false
	if h.keys != nil && key != "" {
		replay, err := h.keys.Begin(r.Context(), scope, key)
		switch {
		case errors.Is(err, idempotency.ErrInFlight):
			respondWithServiceError(w, err, "")
			return
		case err != nil:
			log.Warn().Err(err).Msg("Idempotency store unavailable, processing checkout without it")
		case replay != nil:
			log.Info().Str("idempotency_key", key).Msg("Replaying checkout response")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(replay.Status)
			_, _ = w.Write(replay.Body)
			return
		default:
			claimed = true
		}
	}

	items := make([]checkout.Line, 0, len(requestPayload.Items))
	for _, it := range requestPayload.Items {
		items = append(items, checkout.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	addr := requestPayload.ShippingAddress

	result, err := h.service.Checkout(r.Context(), checkout.Request{
		UserID: viewer.UserID,
		Email:  strings.TrimSpace(requestPayload.Email),
		Items:  items,
		Address: order.Address{
			Name:       addr.Name,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    strings.ToUpper(addr.Country),
			Phone:      addr.Phone,
		},
		CouponCode:    requestPayload.CouponCode,
		PaymentMethod: requestPayload.PaymentMethod,
	})
	if err != nil {
		if claimed {
			if abortErr := h.keys.Abort(r.Context(), scope, key); abortErr != nil {
				log.Warn().Err(abortErr).Msg("Failed to release idempotency key")
			}
		}
		log.Error().Err(err).Msg("Failed to checkout via service")
		respondWithServiceError(w, err, "Failed to start checkout")
		return
	}

	responsePayload := CheckoutResponse{
		OrderID:      result.Order.ID,
		SessionID:    result.SessionID,
		PaymentURL:   result.PaymentURL,
		Subtotal:     result.Quote.Subtotal,
		Discount:     result.Quote.Discount,
		Shipping:     result.Quote.Shipping,
		Total:        result.Quote.Total,
		FreeShipping: result.Quote.FreeShipping,
	}

	if claimed {
		body, err := json.Marshal(responsePayload)
		if err == nil {
			err = h.keys.Complete(r.Context(), scope, key, idempotency.Response{Status: http.StatusCreated, Body: body})
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to store checkout response for idempotency key")
		}
	}

	respondWithJSON(w, http.StatusCreated, responsePayload)
}
