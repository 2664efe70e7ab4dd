package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/coupon"
)

type ValidateCouponRequest struct {
	Code     string          `json:"code" validate:"required,max=64"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CouponHandler struct {
	service  coupon.Service
	validate *validator.Validate
}

func NewCouponHandler(service coupon.Service) *CouponHandler {
	return &CouponHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CouponHandler) RegisterRoutes(router chi.Router) {
	router.Post("/coupons/validate", h.handleValidate)
}

func (h *CouponHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var requestPayload ValidateCouponRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}
	if requestPayload.Subtotal.IsNegative() {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{"subtotal": "must not be negative"},
		})
		return
	}

	res, err := h.service.Validate(r.Context(), requestPayload.Code, viewerFrom(r.Context()).UserID, requestPayload.Subtotal)
	if err != nil {
		log.Error().Err(err).Str("code", requestPayload.Code).Msg("Failed to validate coupon via service")
		respondWithServiceError(w, err, "Failed to validate coupon")
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}
