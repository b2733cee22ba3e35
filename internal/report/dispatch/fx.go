package dispatch

import (
	"context"

	"go.uber.org/fx"

	"github.com/smallbiznis/cardreport/internal/config"
)

var Module = fx.Module("report.dispatch",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// RunnerModule starts the daily loop with the application.
var RunnerModule = fx.Module("report.dispatch.runner",
	fx.Invoke(StartRunner),
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		At:         cfg.DispatchAt,
		LockKey:    cfg.DispatchLockKey,
		LockTTL:    cfg.DispatchLockTTL,
		RunOnStart: cfg.DispatchRunOnStart,
	}.withDefaults()
}

func StartRunner(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go d.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
