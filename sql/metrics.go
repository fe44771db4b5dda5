package sql

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

// poolGauge is one db.Stats reading exported as an observable gauge.
type poolGauge struct {
	name        string
	description string
	read        func(sql.DBStats) int64
}

var poolGauges = []poolGauge{
	{"db.client.connections.open", "Open connections in the pool", func(s sql.DBStats) int64 { return int64(s.OpenConnections) }},
	{"db.client.connections.idle", "Idle connections in the pool", func(s sql.DBStats) int64 { return int64(s.Idle) }},
	{"db.client.connections.max", "Connection limit of the pool", func(s sql.DBStats) int64 { return int64(s.MaxOpenConnections) }},
	{"db.client.connections.used", "Connections currently in use", func(s sql.DBStats) int64 { return int64(s.InUse) }},
}

// registerPoolMetrics creates the pool instruments and one callback that
// reads db.Stats on collection.
func registerPoolMetrics(
	meter metric.Meter,
	db *sql.DB,
	attrs []attribute.KeyValue,
) (metric.Registration, error) {
	gauges := make([]metric.Int64ObservableGauge, len(poolGauges))
	observables := make([]metric.Observable, 0, len(poolGauges)+2)
	for i, g := range poolGauges {
		inst, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{connection}"),
		)
		if err != nil {
			return nil, err
		}
		gauges[i] = inst
		observables = append(observables, inst)
	}

	waits, err := meter.Int64ObservableCounter("db.client.connections.wait_count",
		metric.WithDescription("Times a caller waited for a free connection"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, err
	}
	waited, err := meter.Float64ObservableCounter("db.client.connections.wait_duration",
		metric.WithDescription("Time spent waiting for a free connection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	observables = append(observables, waits, waited)

	opt := metric.WithAttributes(attrs...)
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := db.Stats()
		for i, g := range poolGauges {
			o.ObserveInt64(gauges[i], g.read(stats), opt)
		}
		o.ObserveInt64(waits, stats.WaitCount, opt)
		o.ObserveFloat64(waited, stats.WaitDuration.Seconds(), opt)
		return nil
	}, observables...)
}

// RecordPoolMetrics registers connection pool metrics for p.
//
// The pool's host, port_path_or_id and database_name are attached
// automatically; attrs are appended to them. Unregister the returned
// registration when the pool is closed.
//
// Example:
//
//	pool, _ := sentinelsql.Open("mysql", dsn)
//	reg, err := sentinelsql.RecordPoolMetrics(pool, otel.GetMeterProvider().Meter("myapp"))
//	defer reg.Unregister()
func RecordPoolMetrics(p *Pool, meter metric.Meter, attrs ...attribute.KeyValue) (metric.Registration, error) {
	info := p.Info()
	base := []attribute.KeyValue{attribute.String("db.system", "mysql")}
	if info.Host != "" {
		base = append(base, attribute.String(lifecycle.AttrHost, info.Host))
	}
	if info.PortPathOrID != "" {
		base = append(base, attribute.String(lifecycle.AttrPortPathOrID, info.PortPathOrID))
	}
	if info.Database != "" {
		base = append(base, attribute.String(lifecycle.AttrDatabaseName, info.Database))
	}

	return registerPoolMetrics(meter, p.DB(), append(base, attrs...))
}
