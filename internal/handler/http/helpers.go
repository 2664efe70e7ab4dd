package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
	Issues  []apperr.Issue    `json:"issues,omitempty"`
}

type InsufficientStockResponse struct {
	Error        string `json:"error"`
	ProductID    string `json:"product_id"`
	Requested    int    `json:"requested"`
	CurrentStock int    `json:"current_stock"`
}

type CouponInvalidResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrCouponInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrPaymentIncomplete):
		return http.StatusPaymentRequired
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrInsufficientStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError writes err with its structured details. Internal and
// gateway failures only expose fallback.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	status := mapErrorToStatusCode(err)

	var (
		validationErr *apperr.ValidationError
		stockErr      *apperr.InsufficientStockError
		couponErr     *apperr.CouponInvalidError
	)
	switch {
	case errors.As(err, &validationErr):
		respondWithJSON(w, status, ValidationErrorResponse{Error: validationErr.Message, Issues: validationErr.Issues})
	case errors.As(err, &stockErr):
		respondWithJSON(w, status, InsufficientStockResponse{
			Error:        "Insufficient stock",
			ProductID:    stockErr.ProductID,
			Requested:    stockErr.Requested,
			CurrentStock: stockErr.CurrentStock,
		})
	case errors.As(err, &couponErr):
		respondWithJSON(w, status, CouponInvalidResponse{Error: "Coupon is not valid", Code: couponErr.Code, Reason: couponErr.Reason})
	case errors.Is(err, apperr.ErrExternalGateway):
		respondWithError(w, status, "Payment provider error, please try again")
	case status == http.StatusInternalServerError:
		respondWithError(w, status, fallback)
	default:
		respondWithError(w, status, clientMessage(err))
	}
}

// clientMessage drops the internal "service: ..." prefixes.
func clientMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{"service: ", "repository: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	if msg == "" {
		return http.StatusText(mapErrorToStatusCode(err))
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email address"
		case "min", "gte":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max", "lte":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "oneof":
			details[field] = fmt.Sprintf("must be one of: %s", fe.Param())
		case "uuid":
			details[field] = "must be a valid UUID"
		default:
			details[field] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes the
// error response itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}
