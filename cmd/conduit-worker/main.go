// Conduit Worker — исполняет попытки шагов.
//
// Worker:
//   - Получает task.ready из своей task queue
//   - Выполняет одну попытку шага через Step Registry
//   - Записывает результат в хранилище tasks
//   - Отправляет task.completed оркестратору
//
// Повторы решает оркестратор. Workers масштабируются горизонтально.
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
	"github.com/shaiso/Conduit/internal/worker"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var queues []string

	cmd := app.NewServerCmd("conduit-worker", "Conduit step worker", version,
		func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
			if len(queues) == 0 {
				queues = []string{cfg.Engine.TaskQueue}
			}
			return run(ctx, cfg, logger, queues)
		})
	cmd.Flags().StringSliceVar(&queues, "task-queue", nil, "Task queues to serve (default: engine.task_queue)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, queues []string) error {
	if cfg.MQ.URL == "" {
		return errors.New("worker requires mq.url")
	}

	stores, err := app.OpenStores(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	broker, err := app.ConnectMQ(ctx, cfg.MQ.URL, logger, queues...)
	if err != nil {
		return err
	}
	defer broker.Close()

	w := worker.New(worker.Config{
		Tasks:          stores.Tasks,
		Publisher:      broker.Publisher,
		Conn:           broker.Conn,
		TaskQueues:     queues,
		DefaultTimeout: cfg.Step.Timeout,
		Metrics:        telemetry.NewMetrics(prometheus.DefaultRegisterer),
		Logger:         logger,
	})

	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	health := func(context.Context) error {
		if !broker.Conn.IsConnected() {
			return errors.New("rabbitmq disconnected")
		}
		return nil
	}

	return app.Serve(ctx, config.Addr(cfg.HTTP.WorkerPort), app.OpsMux(health), logger)
}
