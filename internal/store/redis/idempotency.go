package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eci-platform/notifyd/internal/store"
)

const dedupPrefix = "dedup:"

type record struct {
	Status string `json:"status"` // IN_FLIGHT or DELIVERED
	JobID  string `json:"job_id"`
}

const (
	statusInFlight  = "IN_FLIGHT"
	statusDelivered = "DELIVERED"
)

// IdempotencyStore implements atomic reserve-or-read over Redis. The
// reservation relies on SET NX so two concurrent submissions for the same
// dedup key cannot both observe FRESH.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(ctx context.Context, redisURL string, ttl time.Duration) (*IdempotencyStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}, nil
}

func (s *IdempotencyStore) CheckAndReserve(ctx context.Context, dedupKey, jobID string) (store.Reservation, error) {
	key := dedupPrefix + dedupKey
	b, _ := json.Marshal(record{Status: statusInFlight, JobID: jobID})

	// The key may expire between a failed SETNX and the follow-up GET, so
	// take one more pass in that case.
	for i := 0; i < 2; i++ {
		ok, err := s.client.SetNX(ctx, key, b, s.ttl).Result()
		if err != nil {
			return store.Reservation{}, fmt.Errorf("reserve dedup key: %w", err)
		}
		if ok {
			return store.Reservation{State: store.ReservationFresh, JobID: jobID}, nil
		}

		raw, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return store.Reservation{}, fmt.Errorf("read dedup key: %w", err)
		}

		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return store.Reservation{}, fmt.Errorf("decode dedup record: %w", err)
		}
		if rec.Status == statusDelivered {
			return store.Reservation{State: store.ReservationAlreadyDelivered, JobID: rec.JobID}, nil
		}
		return store.Reservation{State: store.ReservationInFlight, JobID: rec.JobID}, nil
	}

	return store.Reservation{}, fmt.Errorf("reserve dedup key: key kept expiring")
}

func (s *IdempotencyStore) MarkDelivered(ctx context.Context, dedupKey, jobID string) error {
	key := dedupPrefix + dedupKey
	b, _ := json.Marshal(record{Status: statusDelivered, JobID: jobID})
	if err := s.client.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("mark dedup key delivered: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, dedupKey string) error {
	if err := s.client.Del(ctx, dedupPrefix+dedupKey).Err(); err != nil {
		return fmt.Errorf("release dedup key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *IdempotencyStore) Close() error {
	return s.client.Close()
}
