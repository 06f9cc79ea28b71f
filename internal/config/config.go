// Package config loads the service configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	DB        DBConfig
	SQLite    SQLiteConfig
	Catalog   CatalogConfig
	Reconcile ReconcileConfig
	Kafka     KafkaConfig
	// PaymentFeeRate is a percentage string such as "2.50".
	PaymentFeeRate string
}

type AppConfig struct {
	Env           string // development, staging, production
	LogLevel      string
	// DefaultLocale picks item titles when a request names no locale.
	DefaultLocale string
}

type HTTPConfig struct {
	Port int
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type StorageConfig struct {
	Driver string

	// CartTTL expires untouched carts in Redis and MongoDB; zero keeps them forever.
	CartTTL time.Duration
	// IdleTimeout releases carts from memory after this long without a
	// request; zero keeps them for the life of the process.
	IdleTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
}

type MongoConfig struct {
	URI    string
	DBName string
}

type SQLiteConfig struct {
	Path string
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	MaxOpenConns   int
	// MigrationsPath holds one subdirectory per SQL driver.
	MigrationsPath string
}

type CatalogConfig struct {
	BaseURL string
	Timeout time.Duration
}

type ReconcileConfig struct {
	Interval    time.Duration
	Concurrency int
	// Policy names the manual-stock enforcement rule: sentinel or activity.
	Policy string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Enabled reports whether a broker list was configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Load reads .env (if present) into the process environment and then
// resolves every key from the environment, falling back to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEFAULT_LOCALE", "zh-CN")
	v.SetDefault("HTTP_PORT", 8080)

	v.SetDefault("STORAGE_DRIVER", StorageMemory)
	v.SetDefault("CART_TTL", "720h")
	v.SetDefault("CART_IDLE_TIMEOUT", "30m")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "cartdb")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "carts")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("MIGRATIONS_PATH", "internal/storage/migrations")
	v.SetDefault("SQLITE_PATH", "carts.db")

	v.SetDefault("CATALOG_BASE_URL", "http://localhost:8081/api/v1/public")
	v.SetDefault("CATALOG_TIMEOUT", "5s")

	v.SetDefault("RECONCILE_INTERVAL", "5m")
	v.SetDefault("RECONCILE_CONCURRENCY", 4)
	v.SetDefault("ENFORCEMENT_POLICY", "sentinel")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "checkout-outbox")
	v.SetDefault("KAFKA_GROUP_ID", "storefront-cart-consumer")

	v.SetDefault("PAYMENT_FEE_RATE", "0")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:           v.GetString("APP_ENV"),
			LogLevel:      v.GetString("LOG_LEVEL"),
			DefaultLocale: strings.TrimSpace(v.GetString("DEFAULT_LOCALE")),
		},
		HTTP: HTTPConfig{Port: v.GetInt("HTTP_PORT")},
		Storage: StorageConfig{
			Driver:      strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
			CartTTL:     v.GetDuration("CART_TTL"),
			IdleTimeout: v.GetDuration("CART_IDLE_TIMEOUT"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		Mongo: MongoConfig{
			URI:    v.GetString("MONGO_URI"),
			DBName: v.GetString("MONGO_DB_NAME"),
		},
		DB: DBConfig{
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetInt("DB_PORT"),
			User:           v.GetString("DB_USER"),
			Password:       v.GetString("DB_PASSWORD"),
			Name:           v.GetString("DB_NAME"),
			MaxOpenConns:   v.GetInt("DB_MAX_OPEN_CONNS"),
			MigrationsPath: v.GetString("MIGRATIONS_PATH"),
		},
		SQLite: SQLiteConfig{Path: v.GetString("SQLITE_PATH")},
		Catalog: CatalogConfig{
			BaseURL: strings.TrimRight(v.GetString("CATALOG_BASE_URL"), "/"),
			Timeout: v.GetDuration("CATALOG_TIMEOUT"),
		},
		Reconcile: ReconcileConfig{
			Interval:    v.GetDuration("RECONCILE_INTERVAL"),
			Concurrency: v.GetInt("RECONCILE_CONCURRENCY"),
			Policy:      strings.ToLower(strings.TrimSpace(v.GetString("ENFORCEMENT_POLICY"))),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		PaymentFeeRate: strings.TrimSpace(v.GetString("PAYMENT_FEE_RATE")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageRedis, StorageMongo, StoragePostgres, StorageSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTP.Port)
	}
	if c.Reconcile.Concurrency <= 0 {
		return fmt.Errorf("RECONCILE_CONCURRENCY must be positive, got %d", c.Reconcile.Concurrency)
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.Storage.CartTTL < 0 || c.Storage.IdleTimeout < 0 {
		return fmt.Errorf("CART_TTL and CART_IDLE_TIMEOUT must not be negative")
	}
	if c.DB.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.DB.MaxOpenConns)
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("CATALOG_TIMEOUT must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
