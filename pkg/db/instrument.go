package db

import (
	"fmt"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

// metricsRefreshSeconds is how often connection pool stats are sampled.
const metricsRefreshSeconds = 15

// Instrument attaches query tracing and pool metrics to gdb.
func Instrument(gdb *gorm.DB, cfg Config) error {
	name := dbName(cfg)
	if err := gdb.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(name),
		otelgorm.WithoutQueryVariables(),
		otelgorm.WithoutMetrics(),
	)); err != nil {
		return fmt.Errorf("register tracing plugin: %w", err)
	}
	if err := gdb.Use(gormprom.New(gormprom.Config{
		DBName:          name,
		RefreshInterval: metricsRefreshSeconds,
		Labels:          map[string]string{"service": "cardreport"},
	})); err != nil {
		return fmt.Errorf("register metrics plugin: %w", err)
	}
	return nil
}

func dbName(cfg Config) string {
	if isSQLite(cfg.Type) {
		return "sqlite"
	}
	if name := strings.TrimSpace(cfg.Name); name != "" {
		return name
	}
	return strings.ToLower(strings.TrimSpace(cfg.Type))
}
