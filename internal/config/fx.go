package config

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/report/alert"
)

var Module = fx.Module("config",
	fx.Provide(
		Load,
		ProvideCalendar,
	),
)

// ProvideCalendar builds the civil calendar report periods are computed in.
func ProvideCalendar(cfg Config) (calendar.Calendar, error) {
	return calendar.New(cfg.Timezone)
}

// ThresholdsModule provides the hot-reloaded alert thresholds as alert.Source.
var ThresholdsModule = fx.Module("config.thresholds",
	fx.Provide(
		provideThresholdHolder,
		func(h *ThresholdHolder) alert.Source { return h },
	),
)

func provideThresholdHolder(cfg Config, log *zap.Logger) (*ThresholdHolder, error) {
	return NewThresholdHolder(cfg.ThresholdsFile, log)
}
