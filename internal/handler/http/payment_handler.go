package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/payment"
)

const (
	HeaderStripeSignature = "Stripe-Signature"

	maxWebhookSize = 64 << 10
)

type ConfirmPaymentRequest struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

type ConfirmPaymentResponse struct {
	Order           OrderResponse       `json:"order"`
	Created         bool                `json:"created"`
	StockShortfalls []payment.Shortfall `json:"stock_shortfalls,omitempty"`
}

type PaymentHandler struct {
	service  payment.Service
	validate *validator.Validate
}

func NewPaymentHandler(service payment.Service) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/confirm", h.handleConfirm)
	router.Post("/payments/webhook", h.handleWebhook)
}

func toConfirmResponse(res *payment.Result) ConfirmPaymentResponse {
	return ConfirmPaymentResponse{
		Order:           toOrderResponse(res.Order),
		Created:         res.Created,
		StockShortfalls: res.StockShortfalls,
	}
}

func (h *PaymentHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var requestPayload ConfirmPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	result, err := h.service.Confirm(r.Context(), requestPayload.SessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", requestPayload.SessionID).Msg("Failed to confirm payment via service")
		respondWithServiceError(w, err, "Failed to confirm payment")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondWithJSON(w, status, toConfirmResponse(result))
}

func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookSize))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	result, err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get(HeaderStripeSignature))
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			log.Warn().Err(err).Msg("Rejected webhook")
		} else {
			log.Error().Err(err).Msg("Failed to process webhook via service")
		}
		respondWithServiceError(w, err, "Failed to process webhook")
		return
	}

	if result == nil {
		respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	respondWithJSON(w, http.StatusOK, toConfirmResponse(result))
}
