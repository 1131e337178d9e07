package db

import (
	"backend-shuttletrack/internal/config"

	"github.com/redis/go-redis/v9"
)

func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		// Honour per-call deadlines so a stalled server cannot hold up ingest.
		ContextTimeoutEnabled: true,
	})
}
