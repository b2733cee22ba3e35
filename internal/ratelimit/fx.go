package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cardreport/internal/config"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
}

func provideRecordLimiter(p Params) (*RecordLimiter, error) {
	return NewRecordLimiter(p.Config, p.Redis)
}

var Module = fx.Module("rate.limit",
	fx.Provide(provideRecordLimiter),
)
