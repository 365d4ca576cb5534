package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Store     StoreRetryConfig
	Commit    CommitRetryConfig
	Redis     RedisConfig
	Inventory InventoryConfig
	Outbox    OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SETTLEMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"SETTLEMENT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SETTLEMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SETTLEMENT_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"SETTLEMENT_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	Driver      string        `envconfig:"SETTLEMENT_DB_DRIVER" default:"sqlite"`
	DSN         string        `envconfig:"SETTLEMENT_DB_DSN" default:"file:ecommerce.db"`
	BusyTimeout time.Duration `envconfig:"SETTLEMENT_DB_BUSY_TIMEOUT" default:"5s"`
	AutoMigrate bool          `envconfig:"SETTLEMENT_DB_AUTO_MIGRATE" default:"false"`

	MaxOpenConns    int           `envconfig:"SETTLEMENT_DB_MAX_OPEN_CONNS" default:"1"`
	MaxIdleConns    int           `envconfig:"SETTLEMENT_DB_MAX_IDLE_CONNS" default:"1"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the embedded store is selected.
func (d DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(d.Driver), DriverSQLite)
}

func (d *DBConfig) validate() error {
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
	switch d.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvDBDriver, DriverSQLite, DriverPostgres, d.Driver)
	}
	if d.DSN == "" {
		return fmt.Errorf("%s is required", EnvDBDSN)
	}
	return nil
}

// RetryConfig is the shared shape of both retry budgets.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxWait        time.Duration
	JitterPercent  uint64
}

// StoreRetryConfig bounds how long a transaction waits to acquire the store.
// Defaults: 10 attempts starting at 200ms, growing 1.5x.
type StoreRetryConfig struct {
	MaxAttempts    int           `envconfig:"SETTLEMENT_STORE_MAX_ATTEMPTS" default:"10"`
	InitialBackoff time.Duration `envconfig:"SETTLEMENT_STORE_INITIAL_BACKOFF" default:"200ms"`
	MaxBackoff     time.Duration `envconfig:"SETTLEMENT_STORE_MAX_BACKOFF" default:"2s"`
	MaxWait        time.Duration `envconfig:"SETTLEMENT_STORE_MAX_WAIT" default:"30s"`
	JitterPercent  uint64        `envconfig:"SETTLEMENT_STORE_JITTER_PERCENT" default:"0"`
}

func (s StoreRetryConfig) Retry() RetryConfig {
	return RetryConfig(s)
}

// CommitRetryConfig bounds how many times a whole order commit is re-run.
type CommitRetryConfig struct {
	MaxAttempts    int           `envconfig:"SETTLEMENT_COMMIT_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"SETTLEMENT_COMMIT_INITIAL_BACKOFF" default:"1s"`
	MaxBackoff     time.Duration `envconfig:"SETTLEMENT_COMMIT_MAX_BACKOFF" default:"4s"`
	MaxWait        time.Duration `envconfig:"SETTLEMENT_COMMIT_MAX_WAIT" default:"0"`
	JitterPercent  uint64        `envconfig:"SETTLEMENT_COMMIT_JITTER_PERCENT" default:"10"`
}

func (c CommitRetryConfig) Retry() RetryConfig {
	return RetryConfig(c)
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLEMENT_REDIS_URL"`
	PoolSize     int           `envconfig:"SETTLEMENT_REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"SETTLEMENT_REDIS_WRITE_TIMEOUT" default:"2s"`
	SummaryTTL   time.Duration `envconfig:"SETTLEMENT_REDIS_SUMMARY_TTL" default:"24h"`

	WebhookRateLimit  int64         `envconfig:"SETTLEMENT_REDIS_WEBHOOK_RATE_LIMIT" default:"120"`
	WebhookRateWindow time.Duration `envconfig:"SETTLEMENT_REDIS_WEBHOOK_RATE_WINDOW" default:"1m"`
}

// Enabled reports whether a summary cache should be wired.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type InventoryConfig struct {
	WarnMultiplier int `envconfig:"SETTLEMENT_INVENTORY_WARN_MULTIPLIER" default:"2"`
}

type OutboxConfig struct {
	BatchSize     int           `envconfig:"SETTLEMENT_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval  time.Duration `envconfig:"SETTLEMENT_OUTBOX_POLL_INTERVAL" default:"500ms"`
	MaxAttempts   int           `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	ChannelPrefix string        `envconfig:"SETTLEMENT_OUTBOX_CHANNEL_PREFIX" default:"settlement.orders"`
}
