package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/settlement/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
	"github.com/angelmondragon/settlement/pkg/logger"
)

// Client owns the shared GORM connection and hands out transactions on it.
type Client struct {
	conn   *gorm.DB
	policy RetryPolicy
	logg   *logger.Logger
	onBusy func(attempt int, err error)
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TxRunner is the transactional surface consumed by services.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Option customises a Client.
type Option func(*Client)

// WithRetryPolicy sets how transaction acquisition is retried when the store
// reports contention.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		if policy != nil {
			c.policy = policy
		}
	}
}

// WithBusyHook registers a callback invoked every time acquisition hits a
// transient failure and is about to be retried.
func WithBusyHook(fn func(attempt int, err error)) Option {
	return func(c *Client) {
		c.onBusy = fn
	}
}

// New boots a GORM client for the configured driver.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case config.DriverSQLite, "":
		dsn, err := SQLiteDSN(cfg.DSN, cfg.BusyTimeout)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case config.DriverPostgres:
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := gorm.Open(dialector, GormConfig())
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}

	applyPoolSettings(sqlDB, cfg)

	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	client := NewFromConn(conn, logg, opts...)
	logg.Info(logg.WithField(ctx, "driver", cfg.Driver), "database connection established")
	return client, nil
}

// NewFromConn wraps an already opened connection.
func NewFromConn(conn *gorm.DB, logg *logger.Logger, opts ...Option) *Client {
	client := &Client{
		conn:   conn,
		policy: NoRetry{},
		logg:   logg,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// GormConfig is the GORM configuration shared by every connection.
func GormConfig() *gorm.Config {
	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)
	return &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	}
}

// SQLiteDSN makes every transaction take the write lock at BEGIN, enables
// foreign keys, and sets the driver-level busy wait. Parameters already
// present in dsn are left alone.
func SQLiteDSN(dsn string, busyTimeout time.Duration) (string, error) {
	base, rawQuery, _ := strings.Cut(dsn, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parsing sqlite dsn: %w", err)
	}
	setDefault := func(key, value string) {
		if query.Get(key) == "" {
			query.Set(key, value)
		}
	}
	setDefault("_txlock", "immediate")
	setDefault("_foreign_keys", "1")
	if busyTimeout > 0 {
		setDefault("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))
	}
	return base + "?" + query.Encode(), nil
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
//
// Only acquisition is retried: a BEGIN that fails with a transient error is
// re-attempted on the client's RetryPolicy and surfaces as
// ErrStoreUnavailable once the budget is spent. Errors from fn and from
// COMMIT are returned unchanged so callers can decide whether to re-run the
// whole unit of work.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx, err := c.begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (c *Client) begin(ctx context.Context) (*gorm.DB, error) {
	backoff := c.policy.Backoff()
	var lastErr error
	for attempt := 1; ; attempt++ {
		tx := c.conn.WithContext(ctx).Begin()
		if tx.Error == nil {
			return tx, nil
		}
		lastErr = tx.Error
		if !IsTransient(lastErr) {
			return nil, fmt.Errorf("begin transaction: %w", lastErr)
		}

		wait, stop := backoff.Next()
		if stop {
			break
		}
		if c.onBusy != nil {
			c.onBusy(attempt, lastErr)
		}
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
			"error":   lastErr.Error(),
		}), "store busy, retrying transaction acquisition")
		if err := Sleep(ctx, wait); err != nil {
			return nil, multierr.Append(lastErr, err)
		}
	}

	return nil, pkgerrors.Wrap(
		pkgerrors.CodeStoreUnavailable,
		multierr.Append(ErrStoreUnavailable, lastErr),
		"could not acquire the store",
	)
}

// InTx runs fn inside a transaction and returns its value.
func InTx[T any](ctx context.Context, runner TxRunner, fn func(tx *gorm.DB) (T, error)) (T, error) {
	var out T
	err := runner.WithTx(ctx, func(tx *gorm.DB) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
