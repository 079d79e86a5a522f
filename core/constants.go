package core

import "time"

// Environment variable names recognized by Config.LoadFromEnv.
const (
	EnvName             = "YMERA_NAME"
	EnvNamespace        = "YMERA_NAMESPACE"
	EnvPostgresDSN      = "YMERA_POSTGRES_DSN"
	EnvRedisURL         = "YMERA_REDIS_URL"
	EnvNATSURL          = "YMERA_NATS_URL"
	EnvHeartbeatTimeout = "YMERA_HEARTBEAT_TIMEOUT"
	EnvWorkerCount      = "YMERA_WORKER_COUNT"
	EnvLogLevel         = "YMERA_LOG_LEVEL"
	EnvDevMode          = "YMERA_DEV_MODE"
)

// Default TTLs and prefixes for the Redis-backed capability index cache.
const (
	DefaultRedisPrefix = "ymera:"
	DefaultPresenceTTL = 30 * time.Second
)
