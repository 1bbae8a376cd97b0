package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tvh0522/mintbay/internal/port"
)

const (
	editionsKeyPrefix = "editions:"
	idempotencyKeyTTL = 24 * time.Hour
)

var decrementEditionsScript = redis.NewScript(`
local key = KEYS[1]

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= 1 then
	redis.call('DECR', key)
	return 1
end

return 0
`)

var incrementEditionsScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('EXISTS', key) == 1 then
	redis.call('INCR', key)
	return 1
end

return 0
`)

// RedisAdapter backs the idempotency keys and the editions-remaining
// mirror. The mirror is advisory: the edition tracker in the store is
// the source of truth and every mint settles against it.
type RedisAdapter struct {
	client *redis.Client
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) SetEditionsRemaining(ctx context.Context, itemID string, remaining int) error {
	key := editionsKeyPrefix + itemID
	return r.client.Set(ctx, key, remaining, 0).Err()
}

func (r *RedisAdapter) DecrementEditionsRemaining(ctx context.Context, itemID string) (bool, error) {
	key := editionsKeyPrefix + itemID

	result, err := decrementEditionsScript.Run(ctx, r.client, []string{key}).Int()
	if err != nil {
		return false, err
	}

	// -1 means no mirror exists; the edition tracker stays authoritative.
	return result != 0, nil
}

func (r *RedisAdapter) IncrementEditionsRemaining(ctx context.Context, itemID string) error {
	key := editionsKeyPrefix + itemID
	return incrementEditionsScript.Run(ctx, r.client, []string{key}).Err()
}

func (r *RedisAdapter) EditionsRemaining(ctx context.Context, itemID string) (int, bool, error) {
	key := editionsKeyPrefix + itemID

	remaining, err := r.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return remaining, true, nil
}
