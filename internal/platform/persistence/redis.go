package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
)

// RedisDB wraps the client holding short-lived risk-scoring state: strike
// counters, event-density buckets and denylists.
type RedisDB struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisDB(ctx context.Context, logger *slog.Logger, cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("Connected to Redis", "addr", cfg.Addr)

	return &RedisDB{client: client, logger: logger}, nil
}

func (r *RedisDB) Client() *redis.Client {
	return r.client
}

func (r *RedisDB) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	r.logger.Info("Closed Redis connection")
	return nil
}
