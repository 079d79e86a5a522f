package core

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds bootstrap configuration for the YMERA control plane.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// This is the control plane's own bootstrap configuration (ports, backing
// store URLs, thresholds) -- not the general-purpose, multi-source
// configuration-loading subsystem that spec.md treats as an external
// collaborator. By the time this Config exists it is already resolved.
//
// LoadFromEnv reads only the variables it names explicitly; the env and
// default struct tags below are not read by any code.
type Config struct {
	Name      string `json:"name" env:"YMERA_NAME" default:"ymera-control-plane"`
	ID        string `json:"id" env:"YMERA_ID"`
	Namespace string `json:"namespace" env:"YMERA_NAMESPACE" default:"default"`

	Postgres   PostgresConfig   `json:"postgres"`
	Redis      RedisConfig      `json:"redis"`
	NATS       NATSConfig       `json:"nats"`
	Registry   RegistryConfig   `json:"registry"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Breaker    BreakerConfig    `json:"breaker"`
	Logging    LoggingConfig    `json:"logging"`
	Development DevelopmentConfig `json:"development"`

	logger Logger `json:"-"`
}

// PostgresConfig configures the durable audit/task/workflow store.
type PostgresConfig struct {
	DSN             string        `json:"dsn" env:"YMERA_POSTGRES_DSN"`
	MaxConns        int32         `json:"max_conns" env:"YMERA_POSTGRES_MAX_CONNS" default:"10"`
	ConnectTimeout  time.Duration `json:"connect_timeout" env:"YMERA_POSTGRES_CONNECT_TIMEOUT" default:"5s"`
	ResultsWindow   time.Duration `json:"results_window" env:"YMERA_POSTGRES_RESULTS_WINDOW" default:"168h"`
}

// RedisConfig configures the distributed capability-index cache.
type RedisConfig struct {
	URL       string        `json:"url" env:"YMERA_REDIS_URL,REDIS_URL"`
	Namespace string        `json:"namespace" env:"YMERA_REDIS_NAMESPACE" default:"ymera"`
	TTL       time.Duration `json:"ttl" env:"YMERA_REDIS_TTL" default:"30s"`
}

// NATSConfig configures the optional external event-bus fan-out.
type NATSConfig struct {
	Enabled bool   `json:"enabled" env:"YMERA_NATS_ENABLED" default:"false"`
	URL     string `json:"url" env:"YMERA_NATS_URL" default:"nats://localhost:4222"`
	Subject string `json:"subject_prefix" env:"YMERA_NATS_SUBJECT_PREFIX" default:"ymera"`
}

// RegistryConfig configures agent lifecycle defaults (C2).
type RegistryConfig struct {
	HeartbeatTimeout      time.Duration `json:"heartbeat_timeout" env:"YMERA_HEARTBEAT_TIMEOUT" default:"30s"`
	SweepInterval         time.Duration `json:"sweep_interval" env:"YMERA_SWEEP_INTERVAL" default:"10s"`
	MaxConsecutiveFailures int          `json:"max_consecutive_failures" env:"YMERA_MAX_CONSECUTIVE_FAILURES" default:"5"`
}

// OrchestratorConfig configures the task orchestrator (C4).
type OrchestratorConfig struct {
	WorkerCount       int           `json:"worker_count" env:"YMERA_WORKER_COUNT" default:"10"`
	MaxConcurrentTasks int          `json:"max_concurrent_tasks" env:"YMERA_MAX_CONCURRENT_TASKS" default:"200"`
	BlockOnSaturation bool          `json:"block_on_saturation" env:"YMERA_BLOCK_ON_SATURATION" default:"false"`
	DefaultTimeout    time.Duration `json:"default_timeout" env:"YMERA_TASK_DEFAULT_TIMEOUT" default:"30s"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"YMERA_SHUTDOWN_TIMEOUT" default:"10s"`
}

// BreakerConfig configures circuit breaker defaults applied to every
// per-agent breaker created by the orchestrator (C1).
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" env:"YMERA_CB_FAILURE_THRESHOLD" default:"5"`
	SuccessThreshold int           `json:"success_threshold" env:"YMERA_CB_SUCCESS_THRESHOLD" default:"2"`
	OpenTimeout      time.Duration `json:"open_timeout" env:"YMERA_CB_OPEN_TIMEOUT" default:"30s"`
	WindowSize       int           `json:"window_size" env:"YMERA_CB_WINDOW_SIZE" default:"20"`
	MinThroughput    int           `json:"min_throughput" env:"YMERA_CB_MIN_THROUGHPUT" default:"10"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" env:"YMERA_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"YMERA_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"YMERA_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig contains settings for local development and testing.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"YMERA_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"YMERA_DEBUG" default:"false"`
}

// Option is a functional option for configuring the control plane.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:      "ymera-control-plane",
		Namespace: "default",
		Postgres: PostgresConfig{
			MaxConns:       10,
			ConnectTimeout: 5 * time.Second,
			ResultsWindow:  7 * 24 * time.Hour,
		},
		Redis: RedisConfig{
			Namespace: "ymera",
			TTL:       30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Subject: "ymera",
		},
		Registry: RegistryConfig{
			HeartbeatTimeout:       30 * time.Second,
			SweepInterval:          10 * time.Second,
			MaxConsecutiveFailures: 5,
		},
		Orchestrator: OrchestratorConfig{
			WorkerCount:        10,
			MaxConcurrentTasks: 200,
			BlockOnSaturation:  false,
			DefaultTimeout:     30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
			WindowSize:       20,
			MinThroughput:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays environment variables onto the configuration.
// Environment variables take precedence over defaults but are overridden by
// functional options.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("YMERA_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("YMERA_ID"); v != "" {
		c.ID = v
	}
	if v := os.Getenv("YMERA_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	if v := firstNonEmpty(os.Getenv("YMERA_POSTGRES_DSN")); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("YMERA_POSTGRES_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Postgres.MaxConns = int32(n)
		}
	}

	if v := firstNonEmpty(os.Getenv("YMERA_REDIS_URL"), os.Getenv("REDIS_URL")); v != "" {
		c.Redis.URL = v
	}

	if v := os.Getenv("YMERA_NATS_ENABLED"); v != "" {
		c.NATS.Enabled = parseBool(v)
	}
	if v := os.Getenv("YMERA_NATS_URL"); v != "" {
		c.NATS.URL = v
	}

	if v := os.Getenv("YMERA_HEARTBEAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Registry.HeartbeatTimeout = d
		}
	}
	if v := os.Getenv("YMERA_MAX_CONSECUTIVE_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Registry.MaxConsecutiveFailures = n
		}
	}

	if v := os.Getenv("YMERA_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.WorkerCount = n
		}
	}
	if v := os.Getenv("YMERA_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.MaxConcurrentTasks = n
		}
	}

	if v := os.Getenv("YMERA_CB_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("YMERA_CB_OPEN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Breaker.OpenTimeout = d
		}
	}

	if v := os.Getenv("YMERA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("YMERA_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("YMERA_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
	}

	return c.Validate()
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &Error{Op: "Config.Validate", Kind: KindInvalidRequest, Message: "name is required", Err: ErrMissingConfiguration}
	}
	if c.Orchestrator.WorkerCount <= 0 {
		return &Error{Op: "Config.Validate", Kind: KindInvalidRequest, Message: "worker_count must be positive", Err: ErrInvalidConfiguration}
	}
	if c.Orchestrator.MaxConcurrentTasks <= 0 {
		return &Error{Op: "Config.Validate", Kind: KindInvalidRequest, Message: "max_concurrent_tasks must be positive", Err: ErrInvalidConfiguration}
	}
	if c.Breaker.FailureThreshold <= 0 {
		return &Error{Op: "Config.Validate", Kind: KindInvalidRequest, Message: "breaker failure_threshold must be positive", Err: ErrInvalidConfiguration}
	}
	return nil
}

// NewConfig creates a new configuration: defaults, then environment, then options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewSimpleLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the logger resolved for this configuration.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return &NoOpLogger{}
	}
	return c.logger
}

// Functional options

// WithName sets the control plane's service name.
func WithName(name string) Option {
	return func(c *Config) error { c.Name = name; return nil }
}

// WithNamespace sets the logical namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) error { c.Namespace = ns; return nil }
}

// WithPostgresDSN sets the durable-store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(c *Config) error { c.Postgres.DSN = dsn; return nil }
}

// WithRedisURL sets the capability-index cache URL.
func WithRedisURL(url string) Option {
	return func(c *Config) error { c.Redis.URL = url; return nil }
}

// WithNATS enables the NATS event-bus fan-out at the given URL.
func WithNATS(url string) Option {
	return func(c *Config) error {
		c.NATS.Enabled = true
		c.NATS.URL = url
		return nil
	}
}

// WithWorkerCount overrides the orchestrator worker-pool size.
func WithWorkerCount(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return &Error{Op: "WithWorkerCount", Kind: KindInvalidRequest, Message: "worker count must be positive", Err: ErrInvalidConfiguration}
		}
		c.Orchestrator.WorkerCount = n
		return nil
	}
}

// WithLogger sets a pre-constructed logger.
func WithLogger(l Logger) Option {
	return func(c *Config) error { c.logger = l; return nil }
}

// WithDevelopmentMode enables developer-friendly defaults.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

var _ io.Writer // io is otherwise unused; LoggingConfig.Output is not read, and SimpleLogger always writes to stderr
