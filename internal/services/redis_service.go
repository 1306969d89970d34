package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"notify-service/internal/database"
	"notify-service/internal/fanout"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisService is the Redis-backed fan-out transport and cluster presence
// store shared by every instance.
type RedisService struct {
	client *database.RedisClient
	logger zerolog.Logger
}

var (
	_ fanout.Transport = (*RedisService)(nil)
	_ fanout.Presence  = (*RedisService)(nil)
)

func NewRedisService(client *database.RedisClient, logger zerolog.Logger) *RedisService {
	return &RedisService{
		client: client,
		logger: logger.With().Str("component", "redis_service").Logger(),
	}
}

func presenceKey(userID string) string  { return fmt.Sprintf("presence:%s", userID) }
func roomMembersKey(room string) string { return fmt.Sprintf("room:%s:members", room) }

// =============================================================================
// Presence
// =============================================================================

// MarkOnline records nodeID as holding a connection for userID. Each node's
// entry is a sorted-set member scored by its expiry so stale nodes age out
// even if they never call MarkOffline.
func (r *RedisService) MarkOnline(ctx context.Context, userID, nodeID string, ttl time.Duration) error {
	now := time.Now()
	key := presenceKey(userID)

	pipe := r.client.GetClient().Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Add(ttl).UnixMilli()), Member: nodeID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error().Err(err).Str("userID", userID).Msg("failed to mark user online")
		return err
	}
	return nil
}

func (r *RedisService) MarkOffline(ctx context.Context, userID, nodeID string) error {
	if err := r.client.GetClient().ZRem(ctx, presenceKey(userID), nodeID).Err(); err != nil {
		r.logger.Error().Err(err).Str("userID", userID).Msg("failed to mark user offline")
		return err
	}
	return nil
}

// IsOnline reports whether any node holds an unexpired presence entry.
func (r *RedisService) IsOnline(ctx context.Context, userID string) (bool, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := r.client.GetClient().ZCount(ctx, presenceKey(userID), "("+now, "+inf").Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// Room membership
// =============================================================================

func (r *RedisService) AddRoomMember(ctx context.Context, room, userID string) error {
	if err := r.client.GetClient().SAdd(ctx, roomMembersKey(room), userID).Err(); err != nil {
		r.logger.Error().Err(err).Str("room", room).Str("userID", userID).Msg("failed to add room member")
		return err
	}
	return nil
}

func (r *RedisService) RemoveRoomMember(ctx context.Context, room, userID string) error {
	if err := r.client.GetClient().SRem(ctx, roomMembersKey(room), userID).Err(); err != nil {
		r.logger.Error().Err(err).Str("room", room).Str("userID", userID).Msg("failed to remove room member")
		return err
	}
	return nil
}

func (r *RedisService) RoomMembers(ctx context.Context, room string) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, roomMembersKey(room)).Result()
}

// =============================================================================
// PubSub
// =============================================================================

func (r *RedisService) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.GetClient().Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe pattern-subscribes and hands every message to handler from a
// single goroutine, so frames on one topic are handled in publish order.
func (r *RedisService) Subscribe(ctx context.Context, pattern string, handler fanout.Handler) (func() error, error) {
	pubsub := r.client.GetClient().PSubscribe(ctx, pattern)

	// Wait for the subscription confirmation so callers know it is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	r.logger.Debug().Str("pattern", pattern).Msg("pattern subscribed")

	go func() {
		for msg := range pubsub.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
		r.logger.Debug().Str("pattern", pattern).Msg("pattern subscription closed")
	}()

	return pubsub.Close, nil
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit is a sliding-window counter used by the REST middleware.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	pipe := r.client.GetClient().Pipeline()

	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return card.Val() < int64(limit), nil
}
