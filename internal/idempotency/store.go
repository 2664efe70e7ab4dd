// Package idempotency remembers request keys and webhook event ids in Redis so
// repeated deliveries are answered without running the operation twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

const (
	inFlight = "in-flight"

	// claimAttempts allows one retry when the key disappears between SETNX and GET.
	claimAttempts = 2
)

var ErrInFlight = fmt.Errorf("a request with this idempotency key is still being processed: %w", apperr.ErrConflict)

// Response is what gets replayed for a repeated key.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func requestKey(scope, key string) string {
	return fmt.Sprintf("idem:%s:%s", scope, key)
}

func eventKey(id string) string {
	return "idem:webhook:" + id
}

// Begin claims key. It returns the stored response when the key already
// completed, ErrInFlight while the first request is running, and (nil, nil)
// when the caller owns the key and must call Complete or Abort.
func (s *Store) Begin(ctx context.Context, scope, key string) (*Response, error) {
	k := requestKey(scope, key)
	for attempt := 0; attempt < claimAttempts; attempt++ {
		ok, err := s.rdb.SetNX(ctx, k, inFlight, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("idempotency: failed to claim key: %w", err)
		}
		if ok {
			return nil, nil
		}

		raw, err := s.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// Expired or aborted between the two calls.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("idempotency: failed to read key: %w", err)
		}
		if raw == inFlight {
			return nil, ErrInFlight
		}

		var resp Response
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, fmt.Errorf("idempotency: stored response is corrupt: %w", err)
		}
		return &resp, nil
	}
	// The key keeps vanishing under us; another request is churning it.
	return nil, ErrInFlight
}

func (s *Store) Complete(ctx context.Context, scope, key string, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("idempotency: failed to encode response: %w", err)
	}
	if err := s.rdb.Set(ctx, requestKey(scope, key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to store response: %w", err)
	}
	return nil
}

// Abort releases key so a retry runs the operation again.
func (s *Store) Abort(ctx context.Context, scope, key string) error {
	if err := s.rdb.Del(ctx, requestKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to release key: %w", err)
	}
	return nil
}

func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: failed to check event: %w", err)
	}
	return n == 1, nil
}

func (s *Store) MarkSeen(ctx context.Context, eventID string) error {
	if err := s.rdb.Set(ctx, eventKey(eventID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to record event: %w", err)
	}
	return nil
}
