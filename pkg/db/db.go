package db

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/cardreport/internal/observability/logger"
)

// Open connects gorm with pool settings applied. A nil log falls back to gorm's default logger.
func Open(cfg Config, log gormlogger.Interface) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = gormlogger.Default.LogMode(gormlogger.Warn)
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}

	if isSQLite(cfg.Type) {
		// sqlite allows a single writer; serialise through one connection.
		sqlDB.SetMaxOpenConns(1)
		_ = gdb.Exec("PRAGMA busy_timeout = 5000").Error
		_ = gdb.Exec("PRAGMA journal_mode = WAL").Error
	}
	return gdb, nil
}

func isSQLite(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return kind == "" || kind == "sqlite"
}

// Module provides *gorm.DB and closes it on shutdown.
var Module = fx.Module("db",
	fx.Provide(provideDB),
)

func provideDB(lc fx.Lifecycle, cfg Config, log *zap.Logger) (*gorm.DB, error) {
	logCfg := logger.DefaultGormLoggerConfig()
	logCfg.Expected = IsDuplicateKeyErr
	gdb, err := Open(cfg, logger.NewGormLogger(log, logCfg))
	if err != nil {
		return nil, err
	}
	if err := Instrument(gdb, cfg); err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			log.Info("closing database")
			return sqlDB.Close()
		},
	})
	return gdb, nil
}
