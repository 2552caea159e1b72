// Conduit API — HTTP API движка.
//
// API:
//   - Принимает inline-определения (POST /api/workflows/execute)
//   - Управляет workflows, версиями, runs и schedules (/api/v1)
//   - Отвечает на запросы статуса, состояния и отмены runs
//
// Runs только создаются: их исполняет conduit-orchestrator, которому
// уходит run.pending. С --standalone движок и планировщик работают
// в этом же процессе (нужно для драйверов memory и sqlite).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conduit/internal/api"
	"github.com/shaiso/Conduit/internal/app"
	"github.com/shaiso/Conduit/internal/config"
	"github.com/shaiso/Conduit/internal/engine"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var standalone bool

	cmd := app.NewServerCmd("conduit-api", "Conduit HTTP API", version,
		func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
			return run(ctx, cfg, logger, standalone)
		})
	cmd.Flags().BoolVar(&standalone, "standalone", false, "Also execute runs and fire schedules in this process")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, standalone bool) error {
	stores, err := app.OpenStores(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	broker, err := app.ConnectMQ(ctx, cfg.MQ.URL, logger, cfg.Engine.TaskQueue)
	if err != nil {
		return err
	}
	defer broker.Close()

	validator, err := engine.NewSchemaValidator()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	eng := app.NewEngine(cfg, stores, broker, metrics, logger)

	if standalone {
		if err := eng.Start(ctx); err != nil {
			return err
		}
		defer eng.Stop()

		sched := app.NewScheduler(stores, eng, metrics, logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	handler := api.NewHandler(api.Config{
		Engine:    eng,
		Runs:      stores.Runs,
		Tasks:     stores.Tasks,
		Workflows: stores.Workflows,
		Schedules: stores.Schedules,
		Validator: validator,
		Metrics:   metrics,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return app.Serve(ctx, config.Addr(cfg.HTTP.APIPort), mux, logger)
}
