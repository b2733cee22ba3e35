// Package storage selects the aggregate document store and the shared
// connections (SQL, redis, mongo) from configuration.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cardreport/internal/config"
	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/store/gormstore"
	"github.com/smallbiznis/cardreport/internal/report/store/memory"
	"github.com/smallbiznis/cardreport/internal/report/store/mongostore"
	"github.com/smallbiznis/cardreport/internal/report/store/redisstore"
	"github.com/smallbiznis/cardreport/pkg/db"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const connectTimeout = 10 * time.Second

// DBConfig maps the application config onto the SQL connection settings.
func DBConfig(cfg config.Config) db.Config {
	return db.Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		Path:            cfg.DBPath,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
}

type StoreParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB      `optional:"true"`
	Redis     *redis.Client `optional:"true"`
}

// NewStore builds the domain.Store named by cfg.StoreBackend.
func NewStore(p StoreParams) (domain.Store, error) {
	log := p.Log.Named("storage")
	backend := p.Config.StoreBackend

	switch backend {
	case config.BackendMemory:
		log.Warn("aggregates are kept in memory and lost on restart")
		return memory.New(), nil

	case config.BackendSQLite, config.BackendPostgres, config.BackendMySQL:
		if p.DB == nil {
			return nil, fmt.Errorf("store backend %q needs a database connection", backend)
		}
		log.Info("using sql aggregate store", zap.String("dialect", p.DB.Dialector.Name()))
		return gormstore.New(p.DB, p.Log), nil

	case config.BackendRedis:
		if p.Redis == nil {
			return nil, fmt.Errorf("store backend %q needs REDIS_ADDR", backend)
		}
		log.Info("using redis aggregate store", zap.String("addr", p.Config.Redis.Addr))
		return redisstore.New(p.Redis, "", p.Log), nil

	case config.BackendMongo:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		client, err := mongostore.Connect(ctx, p.Config.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("closing mongo client")
				return client.Disconnect(ctx)
			},
		})
		log.Info("using mongo aggregate store",
			zap.String("database", p.Config.Mongo.Database),
			zap.String("collection", p.Config.Mongo.Collection),
		)
		return newMongoStore(client, p.Config.Mongo, p.Log), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func newMongoStore(client *mongo.Client, cfg config.MongoConfig, log *zap.Logger) *mongostore.Store {
	return mongostore.New(client.Database(cfg.Database), cfg.Collection, log)
}

func provideRedis(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	client := NewRedisClient(cfg)
	if client == nil {
		return nil
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Named("storage").Info("closing redis client")
			return client.Close()
		},
	})
	return client
}

var Module = fx.Module("storage",
	fx.Provide(
		DBConfig,
		provideRedis,
		NewStore,
	),
	db.Module,
)
