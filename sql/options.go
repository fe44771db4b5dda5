package sql

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-mysql/lifecycle"
	"github.com/kroma-labs/sentinel-mysql/metadata"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	// This identifies the library in traces and metrics.
	scope = "github.com/kroma-labs/sentinel-mysql/sql"
)

// config holds the configuration for instrumentation.
type config struct {
	// TracerProvider is the tracer provider to use.
	// If not set, uses the global provider via otel.GetTracerProvider().
	// When no global provider is configured, a no-op tracer is used (safe, but no traces).
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Meter is the meter instance created from MeterProvider.
	Meter metric.Meter

	// Manager opens and finishes datastore spans. Built from the other fields.
	Manager *lifecycle.Manager

	// Engine is the engine segment of span names.
	// Default: "MySQL"
	Engine string

	// DBSystem identifies the database management system (DBMS) product.
	// Default: "mysql"
	// See: https://opentelemetry.io/docs/specs/semconv/database/database-spans/
	DBSystem string

	// Settings holds the instance and database name reporting toggles.
	// Shared settings let one switch control several drivers.
	Settings *lifecycle.Settings

	// Hostname replaces loopback hosts on spans.
	Hostname func() string

	// Units enables detection of operations that outlive their unit of work.
	// Register the same value as a span processor on the tracer provider.
	Units *lifecycle.Units

	// Info describes the instance behind handles instrumented with
	// Instrument, whose data source name is unknown.
	Info metadata.Info

	// Logger receives installation events and lifecycle defects.
	// Default: disabled
	Logger zerolog.Logger

	// QuerySanitizer sanitizes SQL queries before adding to spans.
	// If nil, queries are included as-is (may expose sensitive data).
	QuerySanitizer func(query string) string

	// DisableQuery disables recording of SQL queries in spans.
	DisableQuery bool
}

// newConfig creates a new config with defaults and applies options.
func newConfig(opts ...Option) *config {
	cfg := &config{
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Engine:         lifecycle.DefaultEngine,
		DBSystem:       "mysql",
		Logger:         zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Settings == nil {
		cfg.Settings = lifecycle.NewSettings()
	}

	cfg.Meter = cfg.MeterProvider.Meter(scope)
	cfg.Manager = lifecycle.NewManager(lifecycle.Config{
		Tracer:         cfg.TracerProvider.Tracer(scope),
		Meter:          cfg.Meter,
		Engine:         cfg.Engine,
		System:         cfg.DBSystem,
		Settings:       cfg.Settings,
		Hostname:       cfg.Hostname,
		Units:          cfg.Units,
		Logger:         &cfg.Logger,
		QuerySanitizer: cfg.QuerySanitizer,
		DisableQuery:   cfg.DisableQuery,
	})

	return cfg
}

// Option configures the instrumentation.
type Option func(*config)

// WithTracerProvider sets a custom tracer provider.
// If not called, the global provider from otel.GetTracerProvider() is used.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(...)
//	pool, _ := sentinelsql.Open("mysql", dsn,
//	    sentinelsql.WithTracerProvider(tp),
//	)
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		cfg.MeterProvider = mp
	}
}

// WithEngine sets the engine segment of span names.
//
// Example:
//
//	sentinelsql.WithEngine("MariaDB")
//	// spans are named Datastore/statement/MariaDB/<table>/<verb>
func WithEngine(engine string) Option {
	return func(cfg *config) {
		cfg.Engine = engine
	}
}

// WithDBSystem sets the database system identifier (DBMS product).
// This is added as the "db.system" attribute on all spans.
func WithDBSystem(system string) Option {
	return func(cfg *config) {
		cfg.DBSystem = system
	}
}

// WithSettings shares reporting toggles with other drivers.
//
// Example:
//
//	settings := lifecycle.NewSettings()
//	pool, _ := sentinelsql.Open("mysql", dsn, sentinelsql.WithSettings(settings))
//
//	// later, at runtime
//	settings.SetDatabaseNameReporting(false)
func WithSettings(s *lifecycle.Settings) Option {
	return func(cfg *config) {
		cfg.Settings = s
	}
}

// WithInstanceReporting enables or disables the host and port_path_or_id
// attributes. Enabled by default.
func WithInstanceReporting(enabled bool) Option {
	return func(cfg *config) {
		if cfg.Settings == nil {
			cfg.Settings = lifecycle.NewSettings()
		}
		cfg.Settings.SetInstanceReporting(enabled)
	}
}

// WithDatabaseNameReporting enables or disables the database_name attribute.
// Enabled by default.
func WithDatabaseNameReporting(enabled bool) Option {
	return func(cfg *config) {
		if cfg.Settings == nil {
			cfg.Settings = lifecycle.NewSettings()
		}
		cfg.Settings.SetDatabaseNameReporting(enabled)
	}
}

// WithHostname overrides how loopback hosts are reported.
func WithHostname(fn func() string) Option {
	return func(cfg *config) {
		cfg.Hostname = fn
	}
}

// WithUnits enables orphan detection.
//
// Example:
//
//	units := lifecycle.NewUnits(0)
//	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(units), ...)
//	pool, _ := sentinelsql.Open("mysql", dsn,
//	    sentinelsql.WithTracerProvider(tp),
//	    sentinelsql.WithUnits(units),
//	)
func WithUnits(u *lifecycle.Units) Option {
	return func(cfg *config) {
		cfg.Units = u
	}
}

// WithInfo describes the instance behind a handle passed to Instrument.
func WithInfo(info metadata.Info) Option {
	return func(cfg *config) {
		cfg.Info = info
	}
}

// WithLogger sets the logger for installation events and lifecycle defects.
//
// Example:
//
//	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
//	pool, _ := sentinelsql.Open("mysql", dsn, sentinelsql.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.Logger = logger
	}
}

// WithQuerySanitizer sets a function to sanitize SQL queries before
// they are added to spans.
//
// Example:
//
//	sentinelsql.WithQuerySanitizer(lifecycle.DefaultQuerySanitizer)
func WithQuerySanitizer(sanitizer func(string) string) Option {
	return func(cfg *config) {
		cfg.QuerySanitizer = sanitizer
	}
}

// WithDisableQuery disables recording SQL queries in spans entirely.
func WithDisableQuery() Option {
	return func(cfg *config) {
		cfg.DisableQuery = true
	}
}
