package config

const (
	// Database configuration
	PrimaryDSN         = "app:secret@tcp(localhost:3306)/example_db"
	Replica1DSN        = "app:secret@tcp(localhost:3307)/example_db"
	Replica2DSN        = "app:secret@tcp(localhost:3308)/example_db"
	DefaultMaxOpen     = 10
	DefaultMaxIdle     = 5
	DefaultMaxLifetime = 3600 // 1 hour in seconds
	DefaultMaxIdleTime = 900  // 15 minutes in seconds

	// Cluster configuration
	RemoveNodeErrorCount = 3
	RestoreNodeTimeout   = 30 // seconds

	// Server configuration
	MetricsPort = ":2112"

	// OpenTelemetry configuration
	OTLPEndpoint   = "localhost:4317"
	ServiceName    = "sentinel-mysql-example"
	ServiceVersion = "0.1.0"

	// Operation intervals
	OperationInterval = 5 // seconds
)
