package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
)

const DefaultMaxAttempts = 5

// Relay moves committed outbox rows to the dispatcher. Rows are locked with
// SKIP LOCKED for the duration of one batch so several replicas can run it.
type Relay struct {
	store       Store
	tx          db.Transactor
	dispatch    Dispatcher
	metrics     *metrics.Metrics
	batchSize   int
	interval    time.Duration
	maxAttempts int
}

func NewRelay(store Store, tx db.Transactor, dispatch Dispatcher, m *metrics.Metrics, batchSize int, interval time.Duration) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		store:       store,
		tx:          tx,
		dispatch:    dispatch,
		metrics:     m,
		batchSize:   batchSize,
		interval:    interval,
		maxAttempts: DefaultMaxAttempts,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay stopping")
			return nil
		case <-t.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				log.Error().Err(err).Msg("outbox relay batch failed")
			}
		}
	}
}

// ProcessBatch dispatches one batch and reports how many events were sent.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	var sent, failed int

	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		events, err := r.store.LockPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			if err := r.dispatch.Dispatch(ctx, e); err != nil {
				if markErr := r.store.MarkFailed(ctx, e.ID, err.Error(), r.maxAttempts); markErr != nil {
					return markErr
				}
				if e.Attempts+1 >= r.maxAttempts {
					log.Error().Int64("event_id", e.ID).Str("type", e.Type).Msg("outbox event parked after max attempts")
				}
				failed++
				continue
			}
			ids = append(ids, e.ID)
		}

		if len(ids) > 0 {
			if err := r.store.MarkSent(ctx, ids); err != nil {
				return err
			}
		}
		sent = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.metrics.Outbox("sent", sent)
	r.metrics.Outbox("failed", failed)
	return sent, nil
}
