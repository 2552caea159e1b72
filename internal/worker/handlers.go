package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/mq"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/steps"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// handleTaskReady обрабатывает сообщение task.ready из очереди task queue.
func (w *Worker) handleTaskReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse task.ready payload", "error", err)
		return mq.Permanent(err)
	}

	w.logger.Debug("received task.ready event",
		"dedup_key", payload.DedupKey,
		"attempt", payload.Attempt,
	)

	if err := w.ExecuteAttempt(ctx, payload); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrStaleAttempt) {
			w.logger.Debug("task not processed", "dedup_key", payload.DedupKey, "reason", err)
			return nil
		}
		w.logger.Error("failed to process task", "dedup_key", payload.DedupKey, "error", err)
		return err
	}

	return nil
}

// ExecuteAttempt выполняет попытку, описанную в payload.
//
// Попытка выполняется, только если task в хранилище всё ещё RUNNING
// с тем же номером попытки: устаревшие и повторно доставленные
// сообщения подтверждаются без выполнения. Если попытка уже завершена,
// task.completed публикуется повторно.
func (w *Worker) ExecuteAttempt(ctx context.Context, payload mq.TaskReadyPayload) error {
	task, err := w.loadTask(ctx, payload.DedupKey)
	if err != nil {
		return err
	}

	if task.Attempt != payload.Attempt {
		return fmt.Errorf("%w: task %s is at attempt %d, message is for %d",
			ErrStaleAttempt, task.DedupKey, task.Attempt, payload.Attempt)
	}
	if task.IsFinished() {
		return w.publishCompletion(ctx, task)
	}
	if task.Status != domain.TaskStatusRunning {
		return fmt.Errorf("%w: task %s is %s", ErrStaleAttempt, task.DedupKey, task.Status)
	}

	logger := telemetry.WithNode(telemetry.WithRunID(w.logger, task.RunID), task.NodeID, task.StepType)
	logger.Info("task started", "attempt", task.Attempt)

	timeout := time.Duration(payload.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = w.defaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	result, execErr := steps.Invoke(attemptCtx, w.registry, task.StepType, &steps.Request{
		RunID:    task.RunID,
		NodeID:   task.NodeID,
		DedupKey: task.DedupKey,
		Attempt:  task.Attempt,
		Params:   task.Input,
	})
	cancel()

	// Остановка воркера: попытку повторит оркестратор по таймауту
	if execErr != nil && ctx.Err() != nil {
		w.metrics.StepAttempt(task.StepType, "interrupted", time.Since(started))
		return ctx.Err()
	}

	// Пока шаг выполнялся, оркестратор мог уйти на следующую попытку
	current, err := w.loadTask(ctx, task.DedupKey)
	if err != nil {
		return err
	}
	if current.Attempt != task.Attempt || current.Status != domain.TaskStatusRunning {
		return fmt.Errorf("%w: task %s moved on during execution", ErrStaleAttempt, task.DedupKey)
	}

	if execErr == nil {
		current.MarkSucceeded(result)
		w.metrics.StepAttempt(task.StepType, "success", time.Since(started))
		logger.Info("task succeeded", "attempt", current.Attempt, "duration", time.Since(started))
	} else {
		current.MarkFailed(execErr.Error())
		w.metrics.StepAttempt(task.StepType, "error", time.Since(started))
		logger.Warn("task failed", "attempt", current.Attempt, "error", execErr)
	}

	if err := w.tasks.Update(ctx, current); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	return w.publishCompletion(ctx, current)
}

func (w *Worker) loadTask(ctx context.Context, dedupKey string) (*domain.Task, error) {
	task, err := w.tasks.GetByDedupKey(ctx, dedupKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, dedupKey)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// publishCompletion публикует событие task.completed.
func (w *Worker) publishCompletion(ctx context.Context, task *domain.Task) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping task.completed publish",
			"dedup_key", task.DedupKey,
		)
		return nil
	}

	payload := mq.TaskCompletedPayload{
		TaskID:   task.ID,
		RunID:    task.RunID,
		NodeID:   task.NodeID,
		DedupKey: task.DedupKey,
		Status:   string(task.Status),
		Error:    task.Error,
		Attempt:  task.Attempt,
		Outputs:  task.Outputs,
	}

	if err := w.publisher.PublishTaskCompleted(ctx, payload); err != nil {
		w.logger.Warn("failed to publish task.completed",
			"dedup_key", task.DedupKey,
			"error", err,
		)
		// Не возвращаем ошибку — task обновлён в хранилище, оркестратор подхватит через polling
	}

	return nil
}
