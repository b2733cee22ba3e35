package alert

import "go.uber.org/fx"

var Module = fx.Module("report.alert",
	fx.Provide(New),
)
