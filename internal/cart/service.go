package cart

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/stock"
)

type Service interface {
	// AddItem adds qty units to the cart after checking the product is active
	// and the resulting line quantity is available. Stock is not touched.
	AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error)
	Get(ctx context.Context, userID uuid.UUID) (*Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	repo   Repository
	ledger stock.Ledger
}

func NewService(repo Repository, ledger stock.Ledger) Service {
	return &service{repo: repo, ledger: ledger}
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error) {
	if qty <= 0 {
		return nil, apperr.Validation("quantity must be greater than zero", apperr.Issue{
			Field:  "quantity",
			Reason: "must_be_positive",
		})
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	wanted := current.Quantity(productID) + qty

	avail, err := s.ledger.CheckAvailability(ctx, productID, wanted)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		if !avail.Active {
			return nil, apperr.Validation("product is not available", apperr.Issue{
				ProductID: productID.String(),
				Reason:    "inactive",
			})
		}
		log.Warn().Stringer("product_id", productID).Int("requested", wanted).Int("current_stock", avail.CurrentStock).Msg("service: add to cart rejected, insufficient stock")
		return nil, &apperr.InsufficientStockError{
			ProductID:    productID.String(),
			Requested:    wanted,
			CurrentStock: max(avail.CurrentStock-avail.Held, 0),
		}
	}

	if err := s.repo.SetQuantity(ctx, userID, productID, wanted); err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to store cart item")
		return nil, fmt.Errorf("service: failed to store cart item: %w", err)
	}

	return s.Get(ctx, userID)
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	items, err := s.repo.GetItems(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to load cart")
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}
	return &Cart{UserID: userID, Items: items}, nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	n, err := s.repo.Clear(ctx, userID)
	if err != nil {
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}
	log.Debug().Stringer("user_id", userID).Int64("items", n).Msg("service: cart cleared")
	return nil
}
