package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/crudadmin/model"
)

// RedisFlashBag is a Redis-backed FlashBag. Each session's messages are a
// list under "flash:{sessionID}" whose expiry is refreshed on every Add.
type RedisFlashBag struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisFlashBag creates a Redis-backed flash bag.
func NewRedisFlashBag(client redis.Cmdable, ttl time.Duration) *RedisFlashBag {
	return &RedisFlashBag{client: client, ttl: ttl}
}

// FormatFlashKey builds the Redis key holding a session's messages.
func FormatFlashKey(sessionID string) string {
	return fmt.Sprintf("flash:%s", sessionID)
}

// Add appends a message to the session's list.
func (b *RedisFlashBag) Add(ctx context.Context, sessionID string, msg model.FlashMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal flash message: %w", err)
	}
	key := FormatFlashKey(sessionID)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis rpush %q: %w", key, err)
	}
	return nil
}

// Peek returns the session's messages without removing them.
func (b *RedisFlashBag) Peek(ctx context.Context, sessionID string) ([]model.FlashMessage, error) {
	key := FormatFlashKey(sessionID)
	raw, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %q: %w", key, err)
	}
	return decodeMessages(key, raw)
}

// Drain returns and removes the session's messages atomically.
func (b *RedisFlashBag) Drain(ctx context.Context, sessionID string) ([]model.FlashMessage, error) {
	key := FormatFlashKey(sessionID)
	pipe := b.client.TxPipeline()
	lr := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis drain %q: %w", key, err)
	}
	return decodeMessages(key, lr.Val())
}

// HealthCheck pings Redis.
func (b *RedisFlashBag) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func decodeMessages(key string, raw []string) ([]model.FlashMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]model.FlashMessage, 0, len(raw))
	for _, r := range raw {
		var msg model.FlashMessage
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal flash message %q: %w", key, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
