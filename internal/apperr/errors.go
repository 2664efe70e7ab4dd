// Package apperr defines the error taxonomy shared by the domain packages and
// mapped to HTTP status codes by the handlers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCouponInvalid     = errors.New("coupon invalid")
	ErrExternalGateway   = errors.New("external gateway error")
	ErrPaymentIncomplete = errors.New("payment incomplete")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrInternal          = errors.New("internal error")
)

// Issue describes one offending input, e.g. one cart line.
type Issue struct {
	Field     string `json:"field,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Reason    string `json:"reason"`
	Requested int    `json:"requested,omitempty"`
	Available int    `json:"available,omitempty"`
}

type ValidationError struct {
	Message string
	Issues  []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	reasons := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.ProductID != "" {
			reasons = append(reasons, is.ProductID+": "+is.Reason)
			continue
		}
		reasons = append(reasons, is.Reason)
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(reasons, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Validation(msg string, issues ...Issue) error {
	return &ValidationError{Message: msg, Issues: issues}
}

type InsufficientStockError struct {
	ProductID    string
	Requested    int
	CurrentStock int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, current stock %d", e.ProductID, e.Requested, e.CurrentStock)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type CouponInvalidError struct {
	Code   string
	Reason string
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("coupon %q is not valid: %s", e.Code, e.Reason)
}

func (e *CouponInvalidError) Is(target error) bool {
	return target == ErrCouponInvalid
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Gateway wraps a payment provider failure. It never implies local success.
func Gateway(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrExternalGateway, err)
}
