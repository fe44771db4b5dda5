// Package lifecycle opens and closes the datastore spans that describe
// database work.
//
// A span is only opened inside an ambient unit of work: the context passed to
// Begin must already carry a valid span. Without one Begin returns a nil
// *Handle, and every Handle method is a no-op on nil, so callers never branch
// on whether tracing happened.
//
// # Naming
//
// Statements are named after the verb and target table:
//
//	Datastore/statement/MySQL/agent_integration.test/select
//	Datastore/statement/MySQL/unknown/select
//
// Other actions are named after the action:
//
//	Datastore/operation/MySQL/Pool#query
//	Datastore/operation/MySQL/PoolCluster#getConnection
//
// # Finish
//
// A Handle finishes exactly once. Later Finish calls are counted in Stats,
// logged, and otherwise ignored. If the enclosing unit of work already ended
// (see Units) the span is marked truncated instead of reviving the parent.
// The unit of work is the nearest span that is not itself a datastore span,
// so a statement under Pool#query is judged by the caller's span.
package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-mysql/metadata"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/sentinel-mysql"

	// DefaultEngine is the engine segment of span names.
	DefaultEngine = "MySQL"

	// TruncatedPrefix is prepended to the name of orphaned spans.
	TruncatedPrefix = "Truncated/"
)

// Span attribute keys for instance metadata.
const (
	AttrHost         = "host"
	AttrPortPathOrID = "port_path_or_id"
	AttrDatabaseName = "database_name"
	AttrTruncated    = "truncated"
)

// Kind distinguishes statement spans from operation spans.
type Kind uint8

const (
	// KindStatement spans are named after the SQL they run.
	KindStatement Kind = iota

	// KindOperation spans are named after a driver action.
	KindOperation
)

// Operation describes the work a span covers.
type Operation struct {
	Kind Kind

	// Action names operation spans, e.g. "Pool#query".
	Action string

	// Statement is the SQL text, if any. Operation spans that carry a
	// statement record it as an attribute.
	Statement string

	// Info is the instance the work targets, read at the moment the work
	// starts.
	Info metadata.Info
}

// StatementOf describes running query against the instance in info.
func StatementOf(query string, info metadata.Info) Operation {
	return Operation{Kind: KindStatement, Statement: query, Info: info}
}

// ActionOf describes a named driver action against the instance in info.
func ActionOf(action string, info metadata.Info) Operation {
	return Operation{Kind: KindOperation, Action: action, Info: info}
}

// Config configures a Manager. Zero fields take defaults.
type Config struct {
	// Tracer opens spans. Defaults to the global tracer provider.
	Tracer trace.Tracer

	// Meter records operation metrics. Defaults to the global meter provider.
	Meter metric.Meter

	// Engine is the engine segment of span names. Defaults to "MySQL".
	Engine string

	// System is recorded as db.system when set.
	System string

	// Settings holds the reporting toggles. Defaults to both enabled.
	Settings *Settings

	// Hostname replaces loopback hosts. Defaults to Hostname.
	Hostname func() string

	// Units enables orphan detection when set.
	Units *Units

	// Logger receives lifecycle defects. Defaults to a disabled logger.
	Logger *zerolog.Logger

	// QuerySanitizer rewrites statements before they are recorded.
	QuerySanitizer func(query string) string

	// DisableQuery drops the db.statement attribute entirely.
	DisableQuery bool
}

// Manager opens and finishes datastore spans.
type Manager struct {
	tracer       trace.Tracer
	engine       string
	system       string
	settings     *Settings
	hostname     func() string
	units        *Units
	logger       zerolog.Logger
	sanitize     func(string) string
	disableQuery bool
	metrics      *metrics
	stats        Stats
}

// NewManager creates a Manager from cfg.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		tracer:       cfg.Tracer,
		engine:       cfg.Engine,
		system:       cfg.System,
		settings:     cfg.Settings,
		hostname:     cfg.Hostname,
		units:        cfg.Units,
		sanitize:     cfg.QuerySanitizer,
		disableQuery: cfg.DisableQuery,
		logger:       zerolog.Nop(),
	}
	if m.tracer == nil {
		m.tracer = otel.GetTracerProvider().Tracer(scope)
	}
	if m.engine == "" {
		m.engine = DefaultEngine
	}
	if m.settings == nil {
		m.settings = NewSettings()
	}
	if m.hostname == nil {
		m.hostname = Hostname
	}
	if cfg.Logger != nil {
		m.logger = cfg.Logger.With().Str("component", "lifecycle").Logger()
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(scope)
	}
	// Metrics stay nil on failure; recording is nil-safe.
	m.metrics, _ = newMetrics(meter)

	return m
}

// Engine returns the engine segment of span names.
func (m *Manager) Engine() string { return m.engine }

// Settings returns the reporting toggles.
func (m *Manager) Settings() *Settings { return m.settings }

// Stats returns the lifecycle counters.
func (m *Manager) Stats() *Stats { return &m.stats }

// Begin opens a span for op as a child of the span carried by ctx.
//
// If ctx carries no valid span there is no unit of work to attach to; Begin
// then returns ctx unchanged and a nil Handle without computing anything.
func (m *Manager) Begin(ctx context.Context, op Operation) (context.Context, *Handle) {
	parent := trace.SpanContextFromContext(ctx)
	if !parent.IsValid() {
		return ctx, nil
	}

	name, metricOp, attrs := m.describe(op)

	unit := unitOf(ctx, parent)

	ctx, span := m.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	ctx = context.WithValue(ctx, unitKey{}, unitScope{span: span.SpanContext().SpanID(), unit: unit})
	m.stats.started.Add(1)

	return ctx, &Handle{
		m:         m,
		span:      span,
		unit:      unit,
		name:      name,
		operation: metricOp,
		start:     time.Now(),
	}
}

// unitKey carries the unitScope of the innermost datastore span in a context.
type unitKey struct{}

// unitScope ties a datastore span to the unit of work it belongs to.
type unitScope struct {
	span trace.SpanID
	unit trace.SpanID
}

// unitOf returns the unit of work a span opened under parent belongs to:
// the unit of the enclosing datastore span when parent is one, else parent.
func unitOf(ctx context.Context, parent trace.SpanContext) trace.SpanID {
	if sc, ok := ctx.Value(unitKey{}).(unitScope); ok && sc.span == parent.SpanID() {
		return sc.unit
	}
	return parent.SpanID()
}

// describe returns the span name, the metric operation label and the span
// attributes of op.
func (m *Manager) describe(op Operation) (string, string, []attribute.KeyValue) {
	attrs := m.baseAttributes()
	attrs = append(attrs, m.instanceAttributes(op.Info)...)

	var name, metricOp string
	switch op.Kind {
	case KindOperation:
		name = OperationName(m.engine, op.Action)
		metricOp = op.Action
		if op.Statement != "" {
			attrs = append(attrs, m.statementAttributes(op.Statement, ParseStatement(op.Statement))...)
		}
	default:
		st := ParseStatement(op.Statement)
		name = StatementName(m.engine, st)
		metricOp = extractOperation(op.Statement)
		attrs = append(attrs, m.statementAttributes(op.Statement, st)...)
	}

	return name, metricOp, attrs
}

// baseAttributes returns the attributes shared by spans and metrics.
func (m *Manager) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)
	if m.system != "" {
		attrs = append(attrs, attribute.String("db.system", m.system))
	}
	return attrs
}

// instanceAttributes returns the host, port and database attributes allowed
// by the current toggles.
func (m *Manager) instanceAttributes(info metadata.Info) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)

	if m.settings.InstanceReporting() {
		if host := info.Host; host != "" {
			if metadata.IsLoopback(host) {
				if h := m.hostname(); h != "" {
					host = h
				}
			}
			attrs = append(attrs, attribute.String(AttrHost, host))
		}
		if info.PortPathOrID != "" {
			attrs = append(attrs, attribute.String(AttrPortPathOrID, info.PortPathOrID))
		}
	}

	if m.settings.DatabaseNameReporting() && info.Database != "" {
		attrs = append(attrs, attribute.String(AttrDatabaseName, info.Database))
	}

	return attrs
}

// statementAttributes returns attributes for statement spans.
func (m *Manager) statementAttributes(query string, st Statement) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)

	if !m.disableQuery && query != "" {
		sanitized := query
		if m.sanitize != nil {
			sanitized = m.sanitize(query)
		}
		attrs = append(attrs, attribute.String("db.statement", sanitized))
	}

	if op := extractOperation(query); op != "" {
		attrs = append(attrs, attribute.String("db.operation", op))
	}
	if st.Collection != UnknownCollection {
		attrs = append(attrs, attribute.String("db.collection", st.Collection))
	}

	return attrs
}
