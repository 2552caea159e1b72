package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/steps"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// DefaultStepTimeout — таймаут одной попытки по умолчанию.
const DefaultStepTimeout = 120 * time.Second

// Executor выполняет одну попытку вызова шага.
//
// Таймаут попытки уже заложен в ctx. Повторы, backoff и учёт
// попыток выполняет Invoker.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (domain.StepResult, error)
}

// LocalExecutor выполняет шаги в текущем процессе через Step Registry.
type LocalExecutor struct {
	registry *steps.Registry
}

// NewLocalExecutor создаёт LocalExecutor.
func NewLocalExecutor(registry *steps.Registry) *LocalExecutor {
	return &LocalExecutor{registry: registry}
}

// Execute выполняет попытку через steps.Invoke.
func (e *LocalExecutor) Execute(ctx context.Context, task *domain.Task) (domain.StepResult, error) {
	req := &steps.Request{
		RunID:    task.RunID,
		NodeID:   task.NodeID,
		DedupKey: task.DedupKey,
		Attempt:  task.Attempt,
		Params:   task.Input,
	}
	return steps.Invoke(ctx, e.registry, task.StepType, req)
}

// InvokerConfig — конфигурация Invoker.
type InvokerConfig struct {
	// Executor — исполнитель попыток (обязателен).
	Executor Executor

	// Registry — источник политик типов шагов (опционально).
	Registry *steps.Registry

	// Tasks — хранилище вызовов. nil — вызовы не сохраняются
	// и не переиспользуются после рестарта.
	Tasks repo.TaskStore

	// Defaults — политика по умолчанию (retry.*, step.timeout).
	Defaults steps.Policy

	// Sleep — ожидание между попытками (подменяется в тестах).
	Sleep func(ctx context.Context, d time.Duration) error

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Invoker — прослойка вызова шага: дедупликация по DedupKey,
// таймаут попытки, повторы с backoff.
type Invoker struct {
	executor Executor
	registry *steps.Registry
	tasks    repo.TaskStore
	defaults steps.Policy
	sleep    func(ctx context.Context, d time.Duration) error
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewInvoker создаёт Invoker.
func NewInvoker(cfg InvokerConfig) *Invoker {
	defaults := steps.Policy{
		Timeout: DefaultStepTimeout,
		Retry:   domain.DefaultRetryPolicy(),
	}.Merge(cfg.Defaults)

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Invoker{
		executor: cfg.Executor,
		registry: cfg.Registry,
		tasks:    cfg.Tasks,
		defaults: defaults,
		sleep:    sleep,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Call — один вызов шага в рамках run.
type Call struct {
	RunID     string
	Node      domain.Node
	Seq       int
	Params    domain.Params
	TaskQueue string
}

// Invoke выполняет вызов с повторами.
//
// Если вызов с тем же DedupKey уже завершён успешно, его результат
// возвращается без повторного выполнения шага. После исчерпания
// попыток возвращается *StepInvocationError. Отмена ctx прерывает
// вызов без записи провала: незавершённая попытка будет выполнена
// заново при возобновлении run.
func (i *Invoker) Invoke(ctx context.Context, call Call) (domain.StepResult, error) {
	policy := i.PolicyFor(call.Node)
	logger := telemetry.WithNode(telemetry.WithRunID(i.logger, call.RunID), call.Node.ID, call.Node.Type)

	task, err := i.loadTask(ctx, call)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case domain.TaskStatusSucceeded:
		logger.Info("reusing completed step result", "dedup_key", task.DedupKey)
		return nonNil(task.Outputs.Clone()), nil
	case domain.TaskStatusFailed:
		return nil, &StepInvocationError{
			NodeID:   call.Node.ID,
			StepType: call.Node.Type,
			Attempts: task.Attempt,
			Err:      errors.New(task.Error),
		}
	}

	for {
		task.MarkRunning()
		if err := i.saveTask(ctx, task); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		started := time.Now()
		result, execErr := i.executor.Execute(attemptCtx, task)
		cancel()

		if execErr == nil {
			result = nonNil(result)
			task.MarkSucceeded(result)
			if err := i.saveTask(ctx, task); err != nil {
				return nil, err
			}
			i.metrics.StepAttempt(call.Node.Type, "success", time.Since(started))
			logger.Info("step succeeded", "attempt", task.Attempt, "duration", time.Since(started))
			return result.Clone(), nil
		}

		// Остановка процесса: попытка останется RUNNING и будет повторена при возобновлении
		if ctx.Err() != nil {
			i.metrics.StepAttempt(call.Node.Type, "interrupted", time.Since(started))
			return nil, ctx.Err()
		}

		i.metrics.StepAttempt(call.Node.Type, "error", time.Since(started))

		if !steps.IsRetryable(execErr) || !task.CanRetry(policy.Retry.MaxAttempts) {
			task.MarkFailed(execErr.Error())
			if err := i.saveTask(ctx, task); err != nil {
				return nil, err
			}
			logger.Error("step failed", "attempt", task.Attempt, "error", execErr)
			return nil, &StepInvocationError{
				NodeID:   call.Node.ID,
				StepType: call.Node.Type,
				Attempts: task.Attempt,
				Err:      execErr,
			}
		}

		delay := calculateBackoff(task.Attempt, policy.Retry)
		logger.Warn("step attempt failed, retrying",
			"attempt", task.Attempt,
			"max_attempts", policy.Retry.MaxAttempts,
			"delay", delay,
			"error", execErr,
		)

		task.ResetForRetry(execErr.Error())
		if err := i.saveTask(ctx, task); err != nil {
			return nil, err
		}
		if err := i.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// PolicyFor возвращает итоговую политику узла:
// значения по умолчанию ← политика типа шага ← переопределения узла.
func (i *Invoker) PolicyFor(node domain.Node) steps.Policy {
	policy := i.defaults
	if i.registry != nil {
		policy = policy.Merge(i.registry.Policy(node.Type))
	}

	var override steps.Policy
	if node.Retry != nil {
		override.Retry = *node.Retry
	}
	if node.TimeoutSec > 0 {
		override.Timeout = time.Duration(node.TimeoutSec) * time.Second
	}
	return policy.Merge(override)
}

// loadTask находит вызов по DedupKey или создаёт новый.
func (i *Invoker) loadTask(ctx context.Context, call Call) (*domain.Task, error) {
	key := domain.DedupKey(call.RunID, call.Node.ID, call.Seq)

	if i.tasks != nil {
		task, err := i.tasks.GetByDedupKey(ctx, key)
		if err == nil {
			if task.Status == domain.TaskStatusRunning {
				// Попытка прервана рестартом и не засчитывается
				task.Attempt = max(task.Attempt-1, 0)
				task.Status = domain.TaskStatusQueued
			}
			return task, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("load task %s: %w", key, err)
		}
	}

	task := domain.NewTask(call.RunID, call.Node.ID, call.Node.Type, call.Seq, call.Params)
	task.TaskQueue = call.TaskQueue

	if i.tasks != nil {
		if err := i.tasks.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("create task %s: %w", key, err)
		}
	}
	return task, nil
}

func (i *Invoker) saveTask(ctx context.Context, task *domain.Task) error {
	if i.tasks == nil {
		return nil
	}
	if err := i.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update task %s: %w", task.DedupKey, err)
	}
	return nil
}

// calculateBackoff вычисляет задержку перед повтором:
// exponential — initial × 2^(attempt-1), fixed — initial; не больше max.
func calculateBackoff(attempt int, policy domain.RetryPolicy) time.Duration {
	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	delay := initialDelay
	if policy.Backoff != "fixed" {
		for n := 1; n < attempt && delay < maxDelay; n++ {
			delay *= 2
		}
	}

	return min(delay, maxDelay)
}

// sleepContext ждёт d или отмены ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nonNil(r domain.StepResult) domain.StepResult {
	if r == nil {
		return domain.StepResult{}
	}
	return r
}
