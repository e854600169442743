package interceptor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter backs the hour/day/month periods with a sliding counter
// keyed in Redis, grounded on internal/cache's redis wiring conventions
// (Manager over *redis.Client) and exercised in tests via
// alicebob/miniredis/v2.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Increment(ctx context.Context, entityID string, period LimitPeriod, amount float64) (float64, error) {
	key := fmt.Sprintf("gateway:ratelimit:%s:%s:%s", entityID, period, bucketSuffix(period))
	ttl := periodTTL(period)

	pipe := c.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, amount)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func bucketSuffix(period LimitPeriod) string {
	now := time.Now().UTC()
	switch period {
	case PeriodHour:
		return now.Format("2006010215")
	case PeriodDay:
		return now.Format("20060102")
	case PeriodMonth:
		return now.Format("200601")
	default:
		return "total"
	}
}

func periodTTL(period LimitPeriod) time.Duration {
	switch period {
	case PeriodHour:
		return time.Hour + 5*time.Minute
	case PeriodDay:
		return 24*time.Hour + 5*time.Minute
	case PeriodMonth:
		return 31*24*time.Hour + 5*time.Minute
	default:
		return 0 // no expiry for the "total" bucket
	}
}
