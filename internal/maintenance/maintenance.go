// Package maintenance answers whether purchases are temporarily switched off.
package maintenance

import (
	"context"
	"errors"

	"PointsSettlement/internal/logger"

	"github.com/redis/go-redis/v9"
)

type Gate interface {
	IsDisabled(ctx context.Context) bool
}

type Static struct {
	Disabled bool
}

func (s Static) IsDisabled(context.Context) bool {
	return s.Disabled
}

// RedisGate reads a flag key that operators toggle with pointsctl. The static
// fallback wins when it is set or when Redis cannot be read.
type RedisGate struct {
	Client   *redis.Client
	Key      string
	Fallback Static
}

func (g RedisGate) IsDisabled(ctx context.Context) bool {
	if g.Fallback.Disabled {
		return true
	}
	v, err := g.Client.Get(ctx, g.Key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("maintenance flag read failed", "key", g.Key, "err", err)
		}
		return false
	}
	return v == "1" || v == "true"
}

func (g RedisGate) Set(ctx context.Context, disabled bool) error {
	if disabled {
		return g.Client.Set(ctx, g.Key, "1", 0).Err()
	}
	return g.Client.Del(ctx, g.Key).Err()
}
