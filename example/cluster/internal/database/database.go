package database

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/kroma-labs/sentinel-mysql/example/cluster/internal/config"
	"github.com/kroma-labs/sentinel-mysql/lifecycle"
	sentinelsql "github.com/kroma-labs/sentinel-mysql/sql"
	sentinelsqlx "github.com/kroma-labs/sentinel-mysql/sqlx"
)

// DB writes through the primary and reads from the replica cluster.
type DB struct {
	*sentinelsqlx.DB
	Replicas *sentinelsql.Cluster
	Driver   *sentinelsql.Driver
}

// New installs instrumentation on the MySQL driver and opens the primary
// pool and the replica cluster.
func New(units *lifecycle.Units, logger zerolog.Logger) (*DB, error) {
	drv, _ := sentinelsql.Install(&mysql.MySQLDriver{}, sentinelsql.KindCallback,
		sentinelsql.WithUnits(units),
		sentinelsql.WithLogger(logger),
		sentinelsql.WithQuerySanitizer(lifecycle.DefaultQuerySanitizer),
	)

	pool, err := drv.OpenPool(config.PrimaryDSN)
	if err != nil {
		return nil, err
	}

	pool.DB().SetMaxOpenConns(config.DefaultMaxOpen)
	pool.DB().SetMaxIdleConns(config.DefaultMaxIdle)
	pool.DB().SetConnMaxLifetime(time.Duration(config.DefaultMaxLifetime) * time.Second)
	pool.DB().SetConnMaxIdleTime(time.Duration(config.DefaultMaxIdleTime) * time.Second)

	db := sentinelsqlx.NewDB(pool, "mysql")
	if _, err := sentinelsqlx.RecordPoolMetrics(db, otel.GetMeterProvider().Meter("example-app")); err != nil {
		logger.Warn().Err(err).Msg("failed to register pool metrics")
	}

	replicas := drv.NewCluster(
		sentinelsql.WithRemoveNodeErrorCount(config.RemoveNodeErrorCount),
		sentinelsql.WithRestoreNodeTimeout(config.RestoreNodeTimeout*time.Second),
	)
	for name, dsn := range map[string]string{
		"REPLICA1": config.Replica1DSN,
		"REPLICA2": config.Replica2DSN,
	} {
		if err := replicas.AddDSN(name, dsn); err != nil {
			_ = replicas.Close()
			_ = db.Close()
			return nil, err
		}
	}

	return &DB{DB: db, Replicas: replicas, Driver: drv}, nil
}

// Close closes the replica cluster and the primary pool.
func (db *DB) Close() error {
	return errors.Join(db.Replicas.Close(), db.DB.Close())
}
