package app

import (
	"log/slog"

	"github.com/shaiso/Conduit/internal/config"
	"github.com/shaiso/Conduit/internal/runner"
	"github.com/shaiso/Conduit/internal/steps"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// NewEngine собирает runner.Engine из конфигурации.
//
// С engine.remote_steps шаги исполняются worker'ами: попытки уходят
// в task queue через broker, результаты приходят task.completed.
// Без брокера remote_steps отклоняется ещё в config.Validate.
func NewEngine(cfg *config.Config, stores *Stores, broker *Broker, metrics *telemetry.Metrics, logger *slog.Logger) *runner.Engine {
	rc := runner.Config{
		Runs:             stores.Runs,
		Tasks:            stores.Tasks,
		Registry:         steps.DefaultRegistry(logger),
		Defaults:         cfg.StepDefaults(),
		DefaultTaskQueue: cfg.Engine.TaskQueue,
		MaxSteps:         cfg.Engine.MaxSteps,
		PollInterval:     cfg.Engine.PollInterval,
		MaxActiveRuns:    cfg.Engine.MaxActiveRuns,
		RequireTrigger:   cfg.Engine.RequireTrigger,
		Metrics:          metrics,
		Logger:           logger,
	}

	if broker.Enabled() {
		rc.Conn = broker.Conn
		rc.Notifier = broker.Publisher

		if cfg.Engine.RemoteSteps {
			rc.Executor = runner.NewRemoteExecutor(runner.RemoteConfig{
				Dispatcher: broker.Publisher,
				Tasks:      stores.Tasks,
				Logger:     logger,
			})
		}
	}

	return runner.New(rc)
}
