package admission

import (
	"context"
	"strconv"
	"time"

	"lfgkeeper/internal/cache"
	"lfgkeeper/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Each reservation key is a sorted set of holder -> expiry (unix ms). The index set maps
// reservation key -> latest expiry so the sweep can find stale keys without SCAN.
var acquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], KEYS[1])
return redis.call('ZRANGE', KEYS[1], 0, -1)
`)

var releaseScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
local n = redis.call('ZCARD', KEYS[1])
if n == 0 then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], KEYS[1])
end
return n
`)

var sweepScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local removed = 0
for _, key in ipairs(due) do
  removed = removed + redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[1])
  if redis.call('ZCARD', key) == 0 then
    redis.call('DEL', key)
    redis.call('ZREM', KEYS[1], key)
  end
end
return removed
`)

// RedisStore keeps reservations in Redis so every API replica shares one admission view.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Acquire(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) ([]string, error) {
	args := []interface{}{
		holder,
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(ttl).UnixMilli(), 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	}
	ctx, span := observability.GetTraceLayer().TraceRedisOperation(ctx, "reservation_acquire", key)
	holders, err := acquireScript.Run(ctx, s.rdb, []string{key, cache.ReservationIndexKey}, args...).StringSlice()
	observability.EndSpan(span, err)
	return holders, err
}

func (s *RedisStore) Release(ctx context.Context, key, holder string) (int, error) {
	ctx, span := observability.GetTraceLayer().TraceRedisOperation(ctx, "reservation_release", key)
	left, err := releaseScript.Run(ctx, s.rdb, []string{key, cache.ReservationIndexKey}, holder).Int()
	observability.EndSpan(span, err)
	return left, err
}

func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := observability.GetTraceLayer().TraceRedisOperation(ctx, "reservation_sweep", cache.ReservationIndexKey)
	removed, err := sweepScript.Run(ctx, s.rdb, []string{cache.ReservationIndexKey}, strconv.FormatInt(now.UnixMilli(), 10)).Int()
	observability.EndSpan(span, err)
	return removed, err
}
