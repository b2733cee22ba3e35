package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/smallbiznis/cardreport/internal/report/store/gormstore"
	usagedomain "github.com/smallbiznis/cardreport/internal/usage/domain"
)

//go:embed sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

// Set is one independently versioned group of tables.
type Set struct {
	Name  string
	Table string
}

var (
	UsageSet  = Set{Name: "usage", Table: "schema_migrations"}
	ReportSet = Set{Name: "report", Table: "report_schema_migrations"}
)

// Run creates the usage_records table and, when the aggregate store lives in
// the same database, the report_documents table. Postgres and MySQL apply the
// embedded SQL migrations; sqlite is auto-migrated from the models so a fresh
// file is usable immediately.
func Run(ctx context.Context, conn *gorm.DB, reportTables bool) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	sets := []Set{UsageSet}
	if reportTables {
		sets = append(sets, ReportSet)
	}

	dialect := conn.Dialector.Name()
	switch dialect {
	case "postgres", "mysql":
	default:
		return autoMigrate(ctx, conn, sets)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("migration database handle: %w", err)
	}
	for _, set := range sets {
		if err := runSQL(ctx, sqlDB, dialect, set); err != nil {
			return err
		}
	}
	return nil
}

func autoMigrate(ctx context.Context, conn *gorm.DB, sets []Set) error {
	var models []any
	for _, set := range sets {
		switch set {
		case UsageSet:
			models = append(models, &usagedomain.UsageRecord{})
		case ReportSet:
			models = append(models, &gormstore.Document{})
		}
	}
	if err := conn.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Source opens the embedded migrations of set for dialect.
func Source(dialect string, set Set) (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir+"/"+dialect+"/"+set.Name)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return src, nil
}

// runSQL applies set on a dedicated connection. Closing the migrator closes
// only that connection, never the shared *sql.DB.
func runSQL(ctx context.Context, sqlDB *sql.DB, dialect string, set Set) error {
	src, err := Source(dialect, set)
	if err != nil {
		return err
	}

	c, err := sqlDB.Conn(ctx)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("acquire migration connection: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case "postgres":
		driver, err = migratepostgres.WithConnection(ctx, c, &migratepostgres.Config{MigrationsTable: set.Table})
	case "mysql":
		driver, err = migratemysql.WithConnection(ctx, c, &migratemysql.Config{MigrationsTable: set.Table})
	default:
		err = fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		_ = c.Close()
		_ = src.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		_ = driver.Close()
		_ = src.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply %s migrations: %w", set.Name, err)
	}
	return nil
}
