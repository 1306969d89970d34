package database

import (
	"context"
	"fmt"
	"time"

	"notify-service/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisClient struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisOptions turns config into go-redis options. REDIS_URL carries the
// address, password and database; pool settings come from the other keys.
func RedisOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	return opts, nil
}

func NewRedisConnection(cfg *config.RedisConfig, log zerolog.Logger) (*RedisClient, error) {
	opts, err := RedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("component", "redis").Str("addr", opts.Addr).Msg("redis connection established")

	return NewRedisClient(rdb, log), nil
}

// NewRedisClient wraps an existing go-redis client.
func NewRedisClient(rdb *redis.Client, log zerolog.Logger) *RedisClient {
	return &RedisClient{client: rdb, logger: log}
}

func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
