package migration

import (
	"context"

	"github.com/smallbiznis/cardreport/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if err := Run(context.Background(), conn, cfg.UsesSQL()); err != nil {
			return err
		}
		log.Named("migration").Info("schema up to date",
			zap.String("database", conn.Dialector.Name()),
			zap.Bool("report_tables", cfg.UsesSQL()),
		)
		return nil
	}),
)
