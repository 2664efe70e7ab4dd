package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
)

type Ledger interface {
	CheckAvailability(ctx context.Context, productID uuid.UUID, qty int) (Availability, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int) (int, error)
	Restore(ctx context.Context, productID uuid.UUID, qty int) (int, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	HeldQuantities(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)
	PlaceHolds(ctx context.Context, orderID uuid.UUID, lines []Line, ttl time.Duration) error
	ReleaseHolds(ctx context.Context, orderID uuid.UUID) error
	SweepExpiredHolds(ctx context.Context) (int64, error)
}

type ledger struct {
	repo     Repository
	metrics  *metrics.Metrics
	attempts int
	now      func() time.Time
}

type Option func(*ledger)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *ledger) { l.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *ledger) { l.now = now }
}

func NewLedger(repo Repository, opts ...Option) Ledger {
	l := &ledger{
		repo:     repo,
		attempts: DefaultCASAttempts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ledger) CheckAvailability(ctx context.Context, productID uuid.UUID, qty int) (Availability, error) {
	if qty <= 0 {
		return Availability{}, apperr.Validation("quantity must be greater than zero")
	}

	p, err := l.repo.GetProduct(ctx, productID)
	if err != nil {
		return Availability{}, err
	}

	held, err := l.repo.HeldQuantities(ctx, []uuid.UUID{productID}, l.now())
	if err != nil {
		return Availability{}, fmt.Errorf("service: failed to read holds: %w", err)
	}

	return Availability{
		Available:    p.Active && p.Stock-held[productID] >= qty,
		Active:       p.Active,
		CurrentStock: p.Stock,
		Held:         held[productID],
	}, nil
}

// Reserve permanently decrements stock by qty.
func (l *ledger) Reserve(ctx context.Context, productID uuid.UUID, qty int) (int, error) {
	if qty <= 0 {
		return 0, apperr.Validation("quantity must be greater than zero")
	}

	var newStock int
	err := CompareAndSwap(ctx, l.attempts, func(ctx context.Context) (bool, error) {
		p, err := l.repo.GetProduct(ctx, productID)
		if err != nil {
			return false, err
		}
		if p.Stock < qty {
			return false, &apperr.InsufficientStockError{
				ProductID:    productID.String(),
				Requested:    qty,
				CurrentStock: p.Stock,
			}
		}
		newStock = p.Stock - qty
		return l.repo.CompareAndSetStock(ctx, productID, p.Stock, newStock)
	})
	if err != nil {
		if errors.Is(err, ErrCASExhausted) {
			l.metrics.StockConflict("reserve")
			log.Warn().Stringer("product_id", productID).Int("quantity", qty).Msg("service: stock reserve lost the race twice")
		}
		return 0, err
	}

	log.Debug().Stringer("product_id", productID).Int("quantity", qty).Int("new_stock", newStock).Msg("service: stock reserved")
	return newStock, nil
}

func (l *ledger) Restore(ctx context.Context, productID uuid.UUID, qty int) (int, error) {
	if qty <= 0 {
		return 0, apperr.Validation("quantity must be greater than zero")
	}

	var newStock int
	err := CompareAndSwap(ctx, l.attempts, func(ctx context.Context) (bool, error) {
		p, err := l.repo.GetProduct(ctx, productID)
		if err != nil {
			return false, err
		}
		newStock = p.Stock + qty
		return l.repo.CompareAndSetStock(ctx, productID, p.Stock, newStock)
	})
	if err != nil {
		if errors.Is(err, ErrCASExhausted) {
			l.metrics.StockConflict("restore")
			log.Warn().Stringer("product_id", productID).Int("quantity", qty).Msg("service: stock restore lost the race twice")
		}
		return 0, err
	}

	log.Debug().Stringer("product_id", productID).Int("quantity", qty).Int("new_stock", newStock).Msg("service: stock restored")
	return newStock, nil
}

func (l *ledger) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	return l.repo.GetProducts(ctx, ids)
}

func (l *ledger) HeldQuantities(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	return l.repo.HeldQuantities(ctx, ids, l.now())
}

func (l *ledger) PlaceHolds(ctx context.Context, orderID uuid.UUID, lines []Line, ttl time.Duration) error {
	expiresAt := l.now().Add(ttl)
	holds := make([]Hold, 0, len(lines))

	for _, line := range lines {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("service: failed to generate hold id: %w", err)
		}
		holds = append(holds, Hold{
			ID:        id,
			OrderID:   orderID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			ExpiresAt: expiresAt,
		})
	}

	if err := l.repo.InsertHolds(ctx, holds); err != nil {
		return fmt.Errorf("service: failed to place holds for order %s: %w", orderID, err)
	}
	return nil
}

func (l *ledger) ReleaseHolds(ctx context.Context, orderID uuid.UUID) error {
	n, err := l.repo.DeleteHolds(ctx, orderID)
	if err != nil {
		return fmt.Errorf("service: failed to release holds for order %s: %w", orderID, err)
	}
	if n > 0 {
		log.Debug().Stringer("order_id", orderID).Int64("holds", n).Msg("service: holds released")
	}
	return nil
}

func (l *ledger) SweepExpiredHolds(ctx context.Context) (int64, error) {
	n, err := l.repo.DeleteExpiredHolds(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("service: failed to sweep expired holds: %w", err)
	}
	l.metrics.HoldsExpired(n)
	return n, nil
}

// RunSweeper removes expired holds every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, l Ledger, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hold sweeper stopping")
			return nil
		case <-t.C:
			n, err := l.SweepExpiredHolds(ctx)
			if err != nil {
				log.Error().Err(err).Msg("hold sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("holds", n).Msg("expired holds released")
			}
		}
	}
}
