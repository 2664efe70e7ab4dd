package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type UpdateOrderStatusRequest struct {
	State  string `json:"state" validate:"required,oneof=PAGADO PROCESANDO ENVIADO ENTREGADO CANCELADO"`
	Reason string `json:"reason" validate:"max=500"`
}

type OrderItemResponse struct {
	ProductID    uuid.UUID       `json:"product_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
}

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     *int64              `json:"order_number,omitempty"`
	State           string              `json:"state"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Discount        decimal.Decimal     `json:"discount"`
	Shipping        decimal.Decimal     `json:"shipping"`
	Total           decimal.Decimal     `json:"total"`
	CouponID        *uuid.UUID          `json:"coupon_id,omitempty"`
	CustomerEmail   string              `json:"customer_email"`
	ShippingAddress order.Address       `json:"shipping_address"`
	Items           []OrderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	PaidAt          *time.Time          `json:"paid_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
}

type TransitionResponse struct {
	Order         OrderResponse `json:"order"`
	Changed       bool          `json:"changed"`
	RestoredItems int           `json:"restored_items"`
	Notified      bool          `json:"notified"`
}

func toOrderResponse(o *order.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		State:           o.State.String(),
		Subtotal:        o.Subtotal,
		Discount:        o.Discount,
		Shipping:        o.Shipping,
		Total:           o.Total,
		CustomerEmail:   o.CustomerEmail,
		ShippingAddress: o.ShippingAddress,
		Items:           make([]OrderItemResponse, 0, len(o.Items)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		PaidAt:          o.PaidAt,
		DeliveredAt:     o.DeliveredAt,
	}
	if o.CouponID.Valid {
		id := o.CouponID.UUID
		resp.CouponID = &id
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			LineSubtotal: it.LineSubtotal,
		})
	}
	return resp
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.With(RequireUser).Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Get("/orders/{id}/history", h.handleGetHistory)
	router.Get("/orders/{id}/invoice", h.handleGetInvoice)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
	router.With(RequireOperator).Patch("/admin/orders/{id}/status", h.handleUpdateStatus)
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r.Context())

	orders, err := h.service.ListByUser(r.Context(), viewer.UserID.UUID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.service.Get(r.Context(), orderID, viewerFrom(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	history, err := h.service.History(r.Context(), orderID, viewerFrom(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order history via service")
		respondWithServiceError(w, err, "Failed to get order history")
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *OrderHandler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	pdf, err := h.service.Invoice(r.Context(), orderID, viewerFrom(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to generate invoice via service")
		respondWithServiceError(w, err, "Failed to generate invoice")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="factura-%s.pdf"`, orderID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		log.Error().Err(err).Msg("Failed to write invoice response")
	}
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload CancelOrderRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, h.validate, &requestPayload) {
			return
		}
	}

	result, err := h.service.Cancel(r.Context(), orderID, viewerFrom(r.Context()), strings.TrimSpace(requestPayload.Reason))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to cancel order via service")
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}

	respondWithJSON(w, http.StatusOK, toTransitionResponse(result))
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	result, err := h.service.Transition(r.Context(), order.TransitionRequest{
		OrderID: orderID,
		To:      order.State(requestPayload.State),
		By:      viewerFrom(r.Context()),
		Reason:  strings.TrimSpace(requestPayload.Reason),
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("state", requestPayload.State).Msg("Failed to update order status via service")
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, toTransitionResponse(result))
}

func toTransitionResponse(result *order.TransitionResult) TransitionResponse {
	return TransitionResponse{
		Order:         toOrderResponse(result.Order),
		Changed:       result.Changed,
		RestoredItems: result.RestoredItems,
		Notified:      result.Notified,
	}
}
