package middleware

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"lfgkeeper/internal/cache"
	"lfgkeeper/internal/models"
)

// FailPolicy decides what a limited route does when the counter store cannot be reached.
type FailPolicy int

const (
	FailOpen FailPolicy = iota
	FailClosed
)

// Limit describes one throttled route.
type Limit struct {
	Resource string
	Max      int
	Window   time.Duration
	Policy   FailPolicy
}

// Quota is the outcome of counting one call.
type Quota struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

var errNoCounterStore = errors.New("rate limit: redis client is nil")

func throttled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return false
	}
	return true
}

// CheckRateLimit counts a call by id against lim. Outside production every call is allowed.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, lim Limit, id string) (Quota, error) {
	if !throttled() {
		return Quota{Allowed: true, Remaining: lim.Max}, nil
	}
	if rdb == nil {
		return Quota{}, errNoCounterStore
	}

	key := cache.RateLimitKey(lim.Resource, id)
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Quota{}, err
	}

	left := ttl.Val()
	if left <= 0 {
		// First call in the window, or a counter that lost its expiry.
		if err := rdb.PExpire(ctx, key, lim.Window).Err(); err != nil {
			return Quota{}, err
		}
		left = lim.Window
	}

	count := incr.Val()
	q := Quota{
		Allowed:   count <= int64(lim.Max),
		Remaining: int(max(0, int64(lim.Max)-count)),
	}
	if !q.Allowed {
		q.RetryAfter = left
	}
	return q, nil
}

// RateLimit throttles a route per actor, or per client IP for anonymous callers.
func RateLimit(rdb *redis.Client, lim Limit) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lim := lim
		if lim.Resource == "" {
			lim.Resource = c.Route().Path
		}
		id := "ip:" + c.IP()
		if actorID := ActorID(c); actorID != "" {
			id = "actor:" + actorID
		}

		q, err := CheckRateLimit(c.UserContext(), rdb, lim, id)
		if err != nil {
			if lim.Policy == FailOpen {
				return c.Next()
			}
			Logger.WarnContext(c.UserContext(), "rate limit store unavailable",
				slog.String("resource", lim.Resource),
				slog.String("error", err.Error()))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "rate limit unavailable",
				"code":  models.CodeExternal,
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(lim.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
		if !q.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(q.RetryAfter.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
				"code":  models.CodeLimitReached,
			})
		}
		return c.Next()
	}
}
