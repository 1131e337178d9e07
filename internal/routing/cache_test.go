package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-shuttletrack/internal/shared/geo"
	"backend-shuttletrack/internal/tracking"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
	route tracking.Route
	err   error
}

func (p *countingProvider) Route(context.Context, geo.Point, geo.Point) (tracking.Route, error) {
	p.calls++
	return p.route, p.err
}

func TestCacheHitsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingProvider{route: tracking.Route{DistanceMeters: 1200, Duration: 3 * time.Minute}}
	cache := NewCache(next, rdb, time.Minute, nil)

	first, err := cache.Route(context.Background(), from, to)
	require.NoError(t, err)
	second, err := cache.Route(context.Background(), geo.Point{Lat: from.Lat + 0.00001, Lng: from.Lng}, to)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(cacheKey(from, to)))

	mr.FastForward(2 * time.Minute)
	_, err = cache.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingProvider{err: errors.New("down")}
	cache := NewCache(next, rdb, time.Minute, nil)

	_, err := cache.Route(context.Background(), from, to)
	require.Error(t, err)
	assert.False(t, mr.Exists(cacheKey(from, to)))
}

func TestCacheWithoutRedis(t *testing.T) {
	next := &countingProvider{route: tracking.Route{DistanceMeters: 10}}
	cache := NewCache(next, nil, 0, nil)
	_, _ = cache.Route(context.Background(), from, to)
	_, _ = cache.Route(context.Background(), from, to)
	assert.Equal(t, 2, next.calls)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "route:-6.2000,106.8000:-6.2500,106.8500", cacheKey(from, to))
}
