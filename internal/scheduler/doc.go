// Package scheduler запускает workflows по расписанию.
//
// Scheduler раз в тик выбирает включённые расписания с наступившим
// next_due_at и отправляет run последней версии workflow через
// runner.Engine. Каждое срабатывание отправляется с ключом
// идемпотентности "{scheduleId}_{dueUnix}", поэтому повторная
// обработка после падения или смены лидера не создаёт второй run.
//
// Структура:
//   - scheduler.go — цикл, Tick и обработка расписания
//   - cron.go      — cron/interval и вычисление next_due_at
//   - leader.go    — выбор лидера через pg_try_advisory_lock
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: schedules,
//	    Workflows: workflows,
//	    Submitter: engine,
//	    Leader:    scheduler.NewPGLeader(pool, 0),
//	    Logger:    logger,
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
//
// Tick выполняет только лидер: без PostgreSQL процесс считается
// лидером всегда (SoloLeader).
package scheduler
