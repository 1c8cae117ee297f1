package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

var ErrInFlight = errors.New("a request with this idempotency key is still in progress")

// Store remembers which order an idempotency key produced, per user.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(userID, key string) string {
	return fmt.Sprintf("idem:order:%s:%s", userID, key)
}

// Begin claims the key. It returns the order id when the key already
// completed, "" when the caller now owns the key, and ErrInFlight when
// another request holds it.
func (s *Store) Begin(ctx context.Context, userID, key string) (string, error) {
	k := s.Key(userID, key)
	claimed, err := s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if claimed {
		return "", nil
	}

	value, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInFlight
	}
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if value == pendingMarker {
		return "", ErrInFlight
	}
	return value, nil
}

// Complete binds the key to the created order.
func (s *Store) Complete(ctx context.Context, userID, key, orderID string) error {
	if err := s.rdb.Set(ctx, s.Key(userID, key), orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency result: %w", err)
	}
	return nil
}

// Release frees the key after a failed attempt so the client may retry.
func (s *Store) Release(ctx context.Context, userID, key string) error {
	if err := s.rdb.Del(ctx, s.Key(userID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
