package lock

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

// Provide returns a redis Locker when a redis client is configured, a Local
// one otherwise.
func Provide(p Params) Locker {
	if p.Redis != nil {
		return NewRedis(p.Redis)
	}
	return NewLocal()
}

var Module = fx.Module("lock",
	fx.Provide(Provide),
)
