package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RiskStore holds the short-lived state behind risk scoring: denylists,
// event-density buckets and per-wallet strike counters. All state decays on
// its own; nothing here is authoritative for money.
type RiskStore interface {
	IsDenylisted(ctx context.Context, kind, value string) (bool, error)
	Denylist(ctx context.Context, kind, value string, ttl time.Duration) error

	// BumpDensity increments the rolling event counter for one device or ip
	// and returns the new count. The window TTL is set on first increment.
	BumpDensity(ctx context.Context, kind, value string, window time.Duration) (int64, error)

	Strikes(ctx context.Context, walletID string) (int64, error)

	// AddStrike bumps the strike counter and refreshes its decay TTL,
	// returning the new count.
	AddStrike(ctx context.Context, walletID string, ttl time.Duration) (int64, error)
}

// RedisRiskStore implements RiskStore on Redis.
type RedisRiskStore struct {
	client *redis.Client
}

// NewRedisRiskStore wraps a Redis client as a RiskStore.
func NewRedisRiskStore(client *redis.Client) *RedisRiskStore {
	return &RedisRiskStore{client: client}
}

func denyKey(kind, value string) string {
	return "risk:deny:" + kind + ":" + value
}

func densityKey(kind, value string) string {
	return "risk:density:" + kind + ":" + value
}

func strikeKey(walletID string) string {
	return "risk:strikes:" + walletID
}

func (s *RedisRiskStore) IsDenylisted(ctx context.Context, kind, value string) (bool, error) {
	n, err := s.client.Exists(ctx, denyKey(kind, value)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check denylist: %w", err)
	}
	return n > 0, nil
}

func (s *RedisRiskStore) Denylist(ctx context.Context, kind, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, denyKey(kind, value), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to denylist %s: %w", kind, err)
	}
	return nil
}

func (s *RedisRiskStore) BumpDensity(ctx context.Context, kind, value string, window time.Duration) (int64, error) {
	key := densityKey(kind, value)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump density counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("failed to set density window: %w", err)
		}
	}
	return count, nil
}

func (s *RedisRiskStore) Strikes(ctx context.Context, walletID string) (int64, error) {
	count, err := s.client.Get(ctx, strikeKey(walletID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read strike counter: %w", err)
	}
	return count, nil
}

func (s *RedisRiskStore) AddStrike(ctx context.Context, walletID string, ttl time.Duration) (int64, error) {
	key := strikeKey(walletID)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add strike: %w", err)
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return count, fmt.Errorf("failed to refresh strike ttl: %w", err)
	}
	return count, nil
}
