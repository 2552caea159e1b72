package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/runner"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// Submitter создаёт runs. Реализуется runner.Engine.
type Submitter interface {
	Submit(ctx context.Context, sub runner.Submission) (*domain.Run, error)
}

// Scheduler отправляет runs по наступившим расписаниям.
type Scheduler struct {
	schedules repo.ScheduleStore
	workflows repo.WorkflowStore
	submitter Submitter
	leader    Leader
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules repo.ScheduleStore
	Workflows repo.WorkflowStore
	Submitter Submitter

	// Leader — выбор лидера. nil — процесс всегда лидер.
	Leader Leader

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	BatchSize int           // расписаний за тик (default: 100)
	Interval  time.Duration // период тика (default: 1s)

	// Now подменяется в тестах.
	Now func() time.Time
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	leader := cfg.Leader
	if leader == nil {
		leader = SoloLeader{}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		workflows: cfg.Workflows,
		submitter: cfg.Submitter,
		leader:    leader,
		metrics:   cfg.Metrics,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		now:       now,
	}
}

// Start запускает цикл тиков в отдельной горутине.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop останавливает цикл и отпускает лидерство.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := s.leader.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release leadership", "error", err)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	isLeader := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok, err := s.leader.TryAcquire(ctx)
		if err != nil {
			s.logger.Warn("leader check failed", "error", err)
			continue
		}
		if ok != isLeader {
			s.logger.Info("leadership changed", "leader", ok)
			isLeader = ok
		}
		if !ok {
			continue
		}

		if err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}
}

// Tick обрабатывает наступившие расписания.
//
// Для каждого: отправляет run последней версии workflow с ключом
// идемпотентности срабатывания и сдвигает next_due_at. Ошибка одного
// расписания не мешает остальным.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	due, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var fired int
	for i := range due {
		sched := &due[i]

		ok, err := s.fire(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}
		if ok {
			fired++
		}
	}

	s.logger.Info("scheduler tick completed", "due", len(due), "fired", fired)
	return nil
}

// fire обрабатывает одно расписание. Возвращает true, если run отправлен.
func (s *Scheduler) fire(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	dueAt := now
	if sched.NextDueAt != nil {
		dueAt = *sched.NextDueAt
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Некорректное расписание выключается, иначе оно будет due каждый тик
		sched.Enabled = false
		sched.UpdatedAt = now
		if updErr := s.schedules.Update(ctx, sched); updErr != nil {
			return false, fmt.Errorf("disable schedule: %w", updErr)
		}
		return false, fmt.Errorf("calculate next due: %w", err)
	}

	run, err := s.submit(ctx, sched, dueAt)
	if err != nil {
		return false, err
	}

	runID := sched.LastRunID
	if run != nil {
		runID = run.ID
	}
	sched.RecordRun(runID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return false, fmt.Errorf("update schedule: %w", err)
	}

	if run == nil {
		return false, nil
	}

	s.metrics.ScheduleFired()
	s.logger.Info("schedule fired",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"run_id", run.ID,
		"next_due_at", nextDue,
	)
	return true, nil
}

// submit отправляет run последней версии workflow. Для удалённого,
// неактивного или пустого workflow возвращает nil без ошибки:
// расписание просто сдвигается.
func (s *Scheduler) submit(ctx context.Context, sched *domain.Schedule, dueAt time.Time) (*domain.Run, error) {
	wf, err := s.workflows.GetByID(ctx, sched.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("workflow not found for schedule, skipping",
				"schedule_id", sched.ID,
				"workflow_id", sched.WorkflowID,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if !wf.IsActive {
		s.logger.Debug("workflow inactive, skipping", "schedule_id", sched.ID, "workflow_id", wf.ID)
		return nil, nil
	}

	version, err := s.workflows.GetLatestVersion(ctx, wf.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("workflow has no versions, skipping", "schedule_id", sched.ID, "workflow_id", wf.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("get latest version: %w", err)
	}

	workflowID := wf.ID
	run, err := s.submitter.Submit(ctx, runner.Submission{
		Definition:     version.Definition,
		Inputs:         sched.Inputs,
		TaskQueue:      sched.TaskQueue,
		IdempotencyKey: IdempotencyKey(sched, dueAt),
		WorkflowID:     &workflowID,
		Version:        version.Version,
		RunID:          scheduledRunID(version.Definition.ID, sched, dueAt),
	})
	if err != nil {
		return nil, fmt.Errorf("submit run: %w", err)
	}
	return run, nil
}

// scheduledRunID — ID run срабатывания. Короткий суффикс расписания
// разводит два расписания одного workflow с одинаковым временем.
func scheduledRunID(definitionID string, sched *domain.Schedule, dueAt time.Time) string {
	return fmt.Sprintf("%s-%s", domain.NewRunID(definitionID, dueAt), sched.ID.String()[:8])
}
