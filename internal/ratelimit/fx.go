package ratelimit

import (
	"github.com/redis/go-redis/v9"
	"github.com/wispbill/wispbill/internal/config"
	"go.uber.org/fx"
)

// NewRedis returns a redis client, or nil when no address is configured.
func NewRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("ratelimit",
	fx.Provide(NewRedis),
	fx.Provide(NewTokenBucket),
)
