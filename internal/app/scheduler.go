package app

import (
	"log/slog"

	"github.com/shaiso/Conduit/internal/scheduler"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// NewScheduler собирает планировщик расписаний.
// На postgres лидер выбирается advisory lock, и реплик может быть
// несколько. На остальных драйверах процесс считает себя лидером.
func NewScheduler(stores *Stores, submitter scheduler.Submitter, metrics *telemetry.Metrics, logger *slog.Logger) *scheduler.Scheduler {
	var leader scheduler.Leader = scheduler.SoloLeader{}
	if stores.Pool != nil {
		leader = scheduler.NewPGLeader(stores.Pool, scheduler.DefaultLockKey)
	}

	return scheduler.New(scheduler.Config{
		Schedules: stores.Schedules,
		Workflows: stores.Workflows,
		Submitter: submitter,
		Leader:    leader,
		Metrics:   metrics,
		Logger:    logger,
	})
}
