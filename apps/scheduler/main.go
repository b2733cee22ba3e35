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
	"github.com/smallbiznis/cardreport/internal/report/dispatch"
	"github.com/smallbiznis/cardreport/internal/storage"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		storage.Module,
		migration.Module,
		clock.Module,

		// Dispatch never changes totals, so no threshold evaluation here.
		providers.Module,
		notify.Module,
		aggregator.Module,
		lock.Module,
		dispatch.Module,

		// No server module!
		dispatch.RunnerModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
