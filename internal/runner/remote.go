package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/mq"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/steps"
)

const defaultRemotePollInterval = time.Second

// TaskDispatcher отправляет попытку шага в очередь worker'ов.
type TaskDispatcher interface {
	PublishTaskReady(ctx context.Context, payload mq.TaskReadyPayload) error
}

// RemoteConfig — конфигурация RemoteExecutor.
type RemoteConfig struct {
	// Dispatcher — публикация task.ready (обязателен).
	Dispatcher TaskDispatcher

	// Tasks — хранилище, в которое worker пишет результат (обязательно).
	Tasks repo.TaskStore

	// PollInterval — как часто проверять task в хранилище,
	// если task.completed потерялся (по умолчанию 1s).
	PollInterval time.Duration

	Logger *slog.Logger
}

// RemoteExecutor выполняет попытки шагов на worker'ах через RabbitMQ.
//
// Попытка публикуется в очередь task queue run'а. Завершение
// приходит событием task.completed (HandleTaskCompleted), а если
// событие потерялось или досталось другому оркестратору, результат
// читается из хранилища tasks.
type RemoteExecutor struct {
	dispatcher   TaskDispatcher
	tasks        repo.TaskStore
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan mq.TaskCompletedPayload
}

// NewRemoteExecutor создаёт RemoteExecutor.
func NewRemoteExecutor(cfg RemoteConfig) *RemoteExecutor {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultRemotePollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RemoteExecutor{
		dispatcher:   cfg.Dispatcher,
		tasks:        cfg.Tasks,
		pollInterval: pollInterval,
		logger:       logger,
		waiters:      make(map[string]chan mq.TaskCompletedPayload),
	}
}

// Execute публикует попытку и ждёт её завершения.
// Ожидаемая попытка определяется по task.Attempt.
func (e *RemoteExecutor) Execute(ctx context.Context, task *domain.Task) (domain.StepResult, error) {
	done := e.register(task.DedupKey)
	defer e.unregister(task.DedupKey)

	payload := mq.TaskReadyPayload{
		TaskID:    task.ID,
		RunID:     task.RunID,
		NodeID:    task.NodeID,
		DedupKey:  task.DedupKey,
		TaskQueue: task.TaskQueue,
		Attempt:   task.Attempt,
	}
	if deadline, ok := ctx.Deadline(); ok {
		payload.TimeoutMs = time.Until(deadline).Milliseconds()
	}

	if err := e.dispatcher.PublishTaskReady(ctx, payload); err != nil {
		return nil, fmt.Errorf("dispatch task %s: %w", task.DedupKey, err)
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, steps.ContextError(ctx)

		case msg := <-done:
			if msg.Attempt != task.Attempt {
				continue
			}
			return attemptOutcome(msg.Status, msg.Outputs, msg.Error)

		case <-ticker.C:
			stored, err := e.tasks.GetByDedupKey(ctx, task.DedupKey)
			if err != nil {
				e.logger.Debug("poll task failed", "dedup_key", task.DedupKey, "error", err)
				continue
			}
			if stored.Attempt == task.Attempt && stored.IsFinished() {
				return attemptOutcome(string(stored.Status), stored.Outputs, stored.Error)
			}
		}
	}
}

// HandleTaskCompleted — обработчик очереди tasks.completed.
// Сообщения о чужих вызовах подтверждаются и игнорируются.
func (e *RemoteExecutor) HandleTaskCompleted(_ context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(err)
	}

	e.mu.Lock()
	ch, ok := e.waiters[payload.DedupKey]
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("task.completed without waiter", "dedup_key", payload.DedupKey)
		return nil
	}

	select {
	case ch <- payload:
	default:
	}
	return nil
}

func (e *RemoteExecutor) register(key string) chan mq.TaskCompletedPayload {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan mq.TaskCompletedPayload, 1)
	e.waiters[key] = ch
	return ch
}

func (e *RemoteExecutor) unregister(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waiters, key)
}

// attemptOutcome переводит итог удалённой попытки в результат или ошибку.
func attemptOutcome(status string, outputs map[string]any, errMsg string) (domain.StepResult, error) {
	if domain.TaskStatus(status) == domain.TaskStatusSucceeded {
		return nonNil(domain.StepResult(outputs)), nil
	}
	if errMsg == "" {
		errMsg = "worker reported " + status
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskFailed, errMsg)
}
