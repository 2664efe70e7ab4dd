package outbox

import (
	"context"
	"fmt"

	"github.com/vasiliy-maslov/storefront/internal/db"
)

type Store interface {
	// Enqueue writes the event on the transaction carried by ctx, if any, so it
	// commits or rolls back with the caller's state change.
	Enqueue(ctx context.Context, event Event) error
	// LockPending must run inside a transaction; the returned rows stay locked
	// until it ends and are skipped by concurrent relays.
	LockPending(ctx context.Context, limit int) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int) error
}

type postgresStore struct {
	db *db.Postgres
}

func NewStore(pg *db.Postgres) Store {
	return &postgresStore{db: pg}
}

func (s *postgresStore) Enqueue(ctx context.Context, event Event) error {
	query := `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`

	return s.db.WithSavepoint(ctx, func(ctx context.Context) error {
		_, err := s.db.Conn(ctx).Exec(ctx, query, event.AggregateType, event.AggregateID, event.Type, event.Payload)
		if err != nil {
			return fmt.Errorf("repository: failed to insert outbox event %s: %w", event.Type, err)
		}
		return nil
	})
}

func (s *postgresStore) LockPending(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, attempts, last_error, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`

	rows, err := s.db.Conn(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to lock outbox batch: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating outbox events: %w", err)
	}

	return events, nil
}

func (s *postgresStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.db.Conn(ctx).Exec(ctx, `UPDATE outbox SET status = 'sent', sent_at = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to mark outbox events sent: %w", err)
	}
	return nil
}

func (s *postgresStore) MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int) error {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1
	`

	if _, err := s.db.Conn(ctx).Exec(ctx, query, id, errMsg, maxAttempts); err != nil {
		return fmt.Errorf("repository: failed to mark outbox event %d failed: %w", id, err)
	}
	return nil
}
