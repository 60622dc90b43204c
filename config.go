package scopedb

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/fernandezvara/scopedb/hooks"
)

// Config holds database configuration
type Config struct {
	// Connection
	URL string `mapstructure:"url" validate:"required"` // PostgreSQL connection string

	// Pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`     // Max open connections (default: 25)
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`     // Max idle connections (default: 5)
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`  // Max connection lifetime (default: 5m)
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"gte=0"` // Max idle time (default: 1m)

	// Timeouts
	DialTimeout  time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`  // Connection dial timeout (default: 5s)
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`  // Read timeout (default: 30s)
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"` // Write timeout (default: 30s)

	// Observability (all optional)
	Logger          *slog.Logger          `mapstructure:"-"`                                   // Structured logger (default: slog.Default())
	LogSlowQueries  time.Duration         `mapstructure:"log_slow_queries" validate:"gte=0"` // Log queries slower than this at warn level (0 = disabled)
	MetricsRegistry prometheus.Registerer `mapstructure:"-"`                                   // Prometheus registry for metrics
	Tracer          trace.Tracer          `mapstructure:"-"`                                   // OpenTelemetry tracer
	Hooks           []hooks.QueryHook     `mapstructure:"-"`                                   // Extra query hooks, run after the built-in ones

	// Scope construction (optional)
	TxFactory   TxFactory   `mapstructure:"-"` // Builds the value handed to Tx continuations
	TaskFactory TaskFactory `mapstructure:"-"` // Builds the value handed to Task continuations
}

// DefaultConfig returns sensible defaults
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TxFactory == nil {
		c.TxFactory = DefaultTxFactory
	}
	if c.TaskFactory == nil {
		c.TaskFactory = DefaultTaskFactory
	}
}

// WithLogger sets the structured logger
func (c Config) WithLogger(logger *slog.Logger) Config {
	c.Logger = logger
	return c
}

// WithSlowQueryLog logs queries slower than the threshold
func (c Config) WithSlowQueryLog(threshold time.Duration) Config {
	c.LogSlowQueries = threshold
	return c
}

// WithMetrics enables Prometheus metrics
func (c Config) WithMetrics(registry prometheus.Registerer) Config {
	c.MetricsRegistry = registry
	return c
}

// WithTracing enables OpenTelemetry tracing
func (c Config) WithTracing(tracer trace.Tracer) Config {
	c.Tracer = tracer
	return c
}

// WithHooks appends custom query hooks
func (c Config) WithHooks(h ...hooks.QueryHook) Config {
	c.Hooks = append(append([]hooks.QueryHook(nil), c.Hooks...), h...)
	return c
}

// WithScopes overrides the scope factories. A nil factory keeps the default.
func (c Config) WithScopes(tx TxFactory, task TaskFactory) Config {
	c.TxFactory = tx
	c.TaskFactory = task
	return c
}
