package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Database
	DatabaseDriver      string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DatabaseDSN         string `envconfig:"DATABASE_DSN" default:"host=localhost user=delivery password=delivery dbname=delivery port=5432 sslmode=disable"`
	DatabaseAutoMigrate bool   `envconfig:"DATABASE_AUTO_MIGRATE" default:"true"`

	// Redis (empty address disables the distributed sync lock)
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Sync
	SyncEnabled        bool          `envconfig:"SYNC_ENABLED" default:"true"`
	SyncInterval       time.Duration `envconfig:"SYNC_INTERVAL" default:"30m"`
	SyncCallDelay      time.Duration `envconfig:"SYNC_CALL_DELAY" default:"750ms"`
	SyncStaleThreshold time.Duration `envconfig:"SYNC_STALE_THRESHOLD" default:"2h"`
	SyncLockTTL        time.Duration `envconfig:"SYNC_LOCK_TTL" default:"30m"`

	// Adapter transport
	AdapterTimeout         time.Duration `envconfig:"ADAPTER_TIMEOUT" default:"30s"`
	AdapterMaxRetries      int           `envconfig:"ADAPTER_MAX_RETRIES" default:"0"`
	AdapterBreakerFailures uint32        `envconfig:"ADAPTER_BREAKER_FAILURES" default:"5"`
	AdapterBreakerTimeout  time.Duration `envconfig:"ADAPTER_BREAKER_TIMEOUT" default:"60s"`

	// Best Delivery
	BestDeliveryURL     string `envconfig:"BESTDELIVERY_URL" default:"https://www.bestdelivery.com.tn"`
	BestDeliveryUseMock bool   `envconfig:"BESTDELIVERY_USE_MOCK" default:"false"`

	// Navex
	NavexURL     string `envconfig:"NAVEX_URL" default:"https://app.navex.tn"`
	NavexUseMock bool   `envconfig:"NAVEX_USE_MOCK" default:"false"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"tournevent-delivery"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.SyncEnabled && c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	if c.AdapterMaxRetries < 0 {
		return fmt.Errorf("ADAPTER_MAX_RETRIES must not be negative")
	}
	return nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("db.system", c.DatabaseDriver),
		attribute.Bool("sync.enabled", c.SyncEnabled),
		attribute.Bool("bestdelivery.mock", c.BestDeliveryUseMock),
		attribute.Bool("navex.mock", c.NavexUseMock),
	}
}
