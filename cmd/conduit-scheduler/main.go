// Conduit Scheduler — запускает workflows по расписанию.
//
// Scheduler:
//   - Раз в секунду выбирает расписания с наступившим next_due_at
//   - Отправляет run последней версии workflow с ключом идемпотентности
//     {schedule_id}_{unix(next_due_at)}
//   - Переносит next_due_at на следующий срок
//
// На postgres лидер выбирается через pg_try_advisory_lock, поэтому
// реплик может быть несколько: тикает только лидер.
package main

import (
	"context"
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
	cmd := app.NewServerCmd("conduit-scheduler", "Conduit schedule runner", version, run)
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

	// Engine не запускается: он только создаёт runs и публикует
	// run.pending, исполняет их conduit-orchestrator.
	eng := app.NewEngine(cfg, stores, broker, metrics, logger)

	sched := app.NewScheduler(stores, eng, metrics, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	var health app.HealthFunc
	if stores.Pool != nil {
		health = stores.Pool.Ping
	}

	return app.Serve(ctx, config.Addr(cfg.HTTP.SchedulerPort), app.OpsMux(health), logger)
}
