package stock

import (
	"context"
	"fmt"

	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

// DefaultCASAttempts is the initial conditional write plus exactly one retry.
const DefaultCASAttempts = 2

var ErrCASExhausted = fmt.Errorf("stock: compare-and-swap lost after bounded retry: %w", apperr.ErrConflict)

// CompareAndSwap calls attempt at most attempts times. Each attempt re-reads
// the current value and issues one conditional write, reporting false when the
// write matched zero rows. Errors returned by attempt stop the loop.
func CompareAndSwap(ctx context.Context, attempts int, attempt func(ctx context.Context) (bool, error)) error {
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		applied, err := attempt(ctx)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}

	return ErrCASExhausted
}
