package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-engine/internal/port"
)

const (
	stockKeyPrefix       = "stock:"
	idempotencyKeyPrefix = "checkout:"
	defaultStockTTL      = 10 * time.Minute
	defaultIdempotentTTL = 24 * time.Hour
)

// setStockScript writes stock only when the incoming version is newer than the
// cached one, so a slow refresh never overwrites a fresher value.
var setStockScript = redis.NewScript(`
local key = KEYS[1]
local stock = ARGV[1]
local version = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = redis.call('HGET', key, 'version')
if current and tonumber(current) >= version then
	return 0
end

redis.call('HSET', key, 'stock', stock, 'version', version)
redis.call('PEXPIRE', key, ttl)
return 1
`)

type RedisAdapter struct {
	client         *redis.Client
	stockTTL       time.Duration
	idempotencyTTL time.Duration
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client, stockTTL, idempotencyTTL time.Duration) *RedisAdapter {
	if stockTTL <= 0 {
		stockTTL = defaultStockTTL
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotentTTL
	}
	return &RedisAdapter{client: client, stockTTL: stockTTL, idempotencyTTL: idempotencyTTL}
}

func (r *RedisAdapter) GetStock(ctx context.Context, itemID string) (int, bool, error) {
	stock, err := r.client.HGet(ctx, stockKeyPrefix+itemID, "stock").Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

func (r *RedisAdapter) SetStock(ctx context.Context, itemID string, stock, version int) (bool, error) {
	key := stockKeyPrefix + itemID

	result, err := setStockScript.Run(ctx, r.client, []string{key}, stock, version, r.stockTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
