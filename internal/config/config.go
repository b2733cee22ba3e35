package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// Timezone is the civil zone every report period is computed in.
	Timezone string

	// StoreBackend selects the aggregate document store:
	// memory, sqlite, postgres, mysql, redis or mongo.
	StoreBackend string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig
	Mongo MongoConfig

	Email     EmailConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig

	ThresholdsFile string

	DispatchAt         string
	DispatchLockKey    string
	DispatchLockTTL    time.Duration
	DispatchRunOnStart bool

	NodeID int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// RateLimitConfig throttles record ingestion through a redis token bucket.
type RateLimitConfig struct {
	Enabled     bool
	RecordRate  float64
	RecordBurst int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type NotifyConfig struct {
	WebhookURL     string
	WebhookChannel string
	EmailTo        []string
	Currency       string
}

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	backend := strings.ToLower(strings.TrimSpace(getenv("STORE_BACKEND", BackendSQLite)))
	dbType := getenv("DATABASE_TYPE", "")
	if dbType == "" {
		dbType = BackendSQLite
		if backend == BackendPostgres || backend == BackendMySQL {
			dbType = backend
		}
	}

	return Config{
		AppName:     getenv("APP_SERVICE", "cardreport"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Timezone:    getenv("REPORT_TIMEZONE", "Asia/Tokyo"),

		StoreBackend: backend,

		DBType:            strings.ToLower(dbType),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "cardreport"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "cardreport.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Mongo: MongoConfig{
			URI:        strings.TrimSpace(getenv("MONGO_URI", "mongodb://localhost:27017")),
			Database:   getenv("MONGO_DATABASE", "cardreport"),
			Collection: getenv("MONGO_COLLECTION", "reports"),
		},

		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 587)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     strings.TrimSpace(getenv("SMTP_FROM", "")),
		},
		Notify: NotifyConfig{
			WebhookURL:     strings.TrimSpace(getenv("NOTIFY_WEBHOOK_URL", "")),
			WebhookChannel: strings.TrimSpace(getenv("NOTIFY_WEBHOOK_CHANNEL", "")),
			EmailTo:        parseList(getenv("NOTIFY_EMAIL_TO", "")),
			Currency:       getenv("REPORT_CURRENCY", "¥"),
		},

		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			RecordRate:  getenvFloat("RATE_LIMIT_RECORD_RATE", 20),
			RecordBurst: int(getenvInt64("RATE_LIMIT_RECORD_BURST", 40)),
		},

		ThresholdsFile: strings.TrimSpace(getenv("THRESHOLDS_FILE", "")),

		DispatchAt:         getenv("DISPATCH_AT", "00:05"),
		DispatchLockKey:    getenv("DISPATCH_LOCK_KEY", "cardreport:dispatch"),
		DispatchLockTTL:    getenvDuration("DISPATCH_LOCK_TTL", 5*time.Minute),
		DispatchRunOnStart: getenvBool("DISPATCH_RUN_ON_START", true),

		NodeID: getenvInt64("NODE_ID", 1),
	}
}

// UsesSQL reports whether the aggregate store lives in the SQL database.
func (c Config) UsesSQL() bool {
	switch c.StoreBackend {
	case BackendSQLite, BackendPostgres, BackendMySQL:
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
