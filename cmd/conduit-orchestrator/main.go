// Conduit Orchestrator — исполняет runs.
//
// Orchestrator:
//   - Получает новые runs из RabbitMQ (run.pending)
//   - Подбирает pending runs и runs с истёкшей арендой polling'ом
//   - Проходит граф от узла к узлу, сохраняя checkpoint после каждого шага
//   - С engine.remote_steps отдаёт шаги worker'ам через task queue
//   - Публикует run.finished
//
// Оркестраторы масштабируются горизонтально: run исполняет тот,
// кто взял аренду.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Conduit/internal/app"
	"github.com/shaiso/Conduit/internal/config"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	cmd := app.NewServerCmd("conduit-orchestrator", "Conduit run orchestrator", version, run)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
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

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	eng := app.NewEngine(cfg, stores, broker, metrics, logger)

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	health := func(context.Context) error {
		if eng.IsStopped() {
			return errors.New("engine stopped")
		}
		return nil
	}

	return app.Serve(ctx, config.Addr(cfg.HTTP.OrchestratorPort), app.OpsMux(health), logger)
}
