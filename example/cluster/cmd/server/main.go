package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/kroma-labs/sentinel-mysql/example/cluster/internal/config"
	"github.com/kroma-labs/sentinel-mysql/example/cluster/internal/database"
	"github.com/kroma-labs/sentinel-mysql/example/cluster/internal/telemetry"
	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

func main() {
	ctx := context.Background()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// 1. Setup OpenTelemetry (Tracing + Metrics)
	units, shutdown, err := telemetry.Setup(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to setup otel")
	}
	defer func() { _ = shutdown(ctx) }()

	// 2. Start Prometheus Metrics Server
	metricsServer := &http.Server{Addr: config.MetricsPort, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", config.MetricsPort).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	// 3. Open the primary and the replica cluster
	db, err := database.New(units, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := telemetry.RegisterCollector(
		lifecycle.NewCollector("sentinel_mysql", db.Driver.Manager().Stats()),
	); err != nil {
		logger.Warn().Err(err).Msg("failed to register lifecycle collector")
	}

	tracer := otel.Tracer("example-app")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := db.CreateTable(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to create table")
	}

	ticker := time.NewTicker(time.Duration(config.OperationInterval) * time.Second)
	defer ticker.Stop()

	// 4. Perform database operations, one unit of work per tick
	for {
		select {
		case <-ticker.C:
			ctx, span := tracer.Start(ctx, "db-operations")

			if err := db.InsertUsers(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to insert users")
			}
			if err := db.QueryReplicas(ctx, logger); err != nil {
				logger.Error().Err(err).Msg("failed to query replicas")
			}
			if _, err := db.GetUser(ctx, "Alice"); err != nil {
				logger.Error().Err(err).Msg("failed to get user")
			}
			if err := db.InsertWithTransaction(ctx); err != nil {
				logger.Error().Err(err).Msg("failed transaction")
			}

			span.End()

		case <-sigChan:
			logger.Info().Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
			return
		}
	}
}
