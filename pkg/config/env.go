package config

const EnvPrefix = "SETTLEMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	EnvAppEnv  = "SETTLEMENT_APP_ENV"
	EnvAppPort = "SETTLEMENT_APP_PORT"
	EnvLogLvl  = "SETTLEMENT_LOG_LEVEL"
	EnvLogFmt  = "SETTLEMENT_LOG_FORMAT"

	EnvDBDriver      = "SETTLEMENT_DB_DRIVER"
	EnvDBDSN         = "SETTLEMENT_DB_DSN"
	EnvDBBusyTimeout = "SETTLEMENT_DB_BUSY_TIMEOUT"

	EnvStoreMaxAttempts    = "SETTLEMENT_STORE_MAX_ATTEMPTS"
	EnvStoreInitialBackoff = "SETTLEMENT_STORE_INITIAL_BACKOFF"
	EnvCommitMaxAttempts   = "SETTLEMENT_COMMIT_MAX_ATTEMPTS"
	EnvCommitJitterPercent = "SETTLEMENT_COMMIT_JITTER_PERCENT"

	EnvRedisURL        = "SETTLEMENT_REDIS_URL"
	EnvRedisSummaryTTL = "SETTLEMENT_REDIS_SUMMARY_TTL"
)
