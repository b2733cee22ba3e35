package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cardreport/internal/clock"
	"github.com/smallbiznis/cardreport/internal/config"
	"github.com/smallbiznis/cardreport/internal/lock"
	"github.com/smallbiznis/cardreport/internal/migration"
	"github.com/smallbiznis/cardreport/internal/notify"
	"github.com/smallbiznis/cardreport/internal/observability"
	"github.com/smallbiznis/cardreport/internal/providers"
	"github.com/smallbiznis/cardreport/internal/report/aggregator"
	"github.com/smallbiznis/cardreport/internal/report/alert"
	"github.com/smallbiznis/cardreport/internal/report/dispatch"
	"github.com/smallbiznis/cardreport/internal/server"
	"github.com/smallbiznis/cardreport/internal/storage"
	"github.com/smallbiznis/cardreport/internal/usage"
	"go.uber.org/fx"
)

// The API records usage, serves reports and exposes a manual dispatch
// endpoint. The daily loop runs in apps/scheduler.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		storage.Module,
		migration.Module,
		clock.Module,

		config.ThresholdsModule,
		providers.Module,
		notify.Module,
		alert.Module,
		aggregator.Module,
		lock.Module,
		dispatch.Module,
		usage.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
