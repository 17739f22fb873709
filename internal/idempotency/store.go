// Package idempotency lets clients safely retry ledger writes. A request that
// carries an Idempotency-Key header is executed once; later requests with the
// same key get the recorded response back instead of posting again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix     = "ledger:idempotency:"
	pendingMarker = "pending"
)

var ErrInProgress = errors.New("idempotency: request with this key is still running")

// Response is a recorded HTTP response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Begin claims key for the caller. It returns (nil, nil) when the claim
// succeeded, the recorded response when the key already completed, and
// ErrInProgress while another request holds it.
func (s *Store) Begin(ctx context.Context, key string) (*Response, error) {
	claimed, err := s.rdb.SetNX(ctx, keyPrefix+key, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: claim %s: %w", key, err)
	}
	if claimed {
		return nil, nil
	}

	raw, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: load %s: %w", key, err)
	}
	if raw == pendingMarker {
		return nil, ErrInProgress
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("idempotency: decode %s: %w", key, err)
	}
	return &resp, nil
}

// Complete records the response for key.
func (s *Store) Complete(ctx context.Context, key string, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyPrefix+key, string(data), s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: record %s: %w", key, err)
	}
	return nil
}

// Release drops the claim so the request may be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}
