package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backend-shuttletrack/internal/shared/geo"
	"backend-shuttletrack/internal/tracking"

	"github.com/redis/go-redis/v9"
)

// Cache memoizes routes in Redis keyed on coordinates rounded to ~11 m.
type Cache struct {
	next  tracking.RouteProvider
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewCache(next tracking.RouteProvider, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{next: next, redis: rdb, ttl: ttl, log: log}
}

func cacheKey(from, to geo.Point) string {
	return fmt.Sprintf("route:%.4f,%.4f:%.4f,%.4f", from.Lat, from.Lng, to.Lat, to.Lng)
}

func (c *Cache) Route(ctx context.Context, from, to geo.Point) (tracking.Route, error) {
	if c.redis == nil {
		return c.next.Route(ctx, from, to)
	}
	key := cacheKey(from, to)
	if raw, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var r tracking.Route
		if err := json.Unmarshal(raw, &r); err == nil {
			return r, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.WarnContext(ctx, "route cache read failed", "error", err)
	}

	r, err := c.next.Route(ctx, from, to)
	if err != nil {
		return tracking.Route{}, err
	}
	if payload, err := json.Marshal(r); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "route cache write failed", "error", err)
		}
	}
	return r, nil
}
