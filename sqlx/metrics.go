package sqlx

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	sentinelsql "github.com/kroma-labs/sentinel-mysql/sql"
)

// RecordPoolMetrics registers connection pool metrics for db.
//
// Example:
//
//	db, _ := sentinelsqlx.Open("mysql", dsn)
//	reg, err := sentinelsqlx.RecordPoolMetrics(db, otel.GetMeterProvider().Meter("myapp"))
//	defer reg.Unregister()
func RecordPoolMetrics(db *DB, meter metric.Meter, attrs ...attribute.KeyValue) (metric.Registration, error) {
	return sentinelsql.RecordPoolMetrics(db.pool, meter, attrs...)
}
