package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conduit/internal/mq"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/steps"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// Default configuration values.
const (
	defaultTaskQueue = "conduit-workflow-queue"
	defaultTimeout   = 120 * time.Second
	defaultPrefetch  = 5
)

// CompletionPublisher публикует итог попытки.
type CompletionPublisher interface {
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
}

// Worker исполняет попытки шагов, которые оркестратор отправил в очередь.
//
// Worker — stateless компонент системы, который:
//   - Получает task.ready из очередей своих task queues
//   - Выполняет одну попытку через Step Registry с таймаутом из сообщения
//   - Записывает результат попытки в хранилище tasks
//   - Отправляет task.completed обратно оркестратору
//
// Повторы и backoff решает оркестратор. Workers масштабируются
// горизонтально — несколько экземпляров потребляют из одной очереди.
type Worker struct {
	tasks     repo.TaskStore
	publisher CompletionPublisher
	conn      *mq.Connection
	registry  *steps.Registry

	consumers []*mq.Consumer

	taskQueues     []string
	defaultTimeout time.Duration
	prefetch       int

	metrics    *telemetry.Metrics
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Tasks — хранилище вызовов шагов (обязательно).
	Tasks repo.TaskStore

	// Publisher — публикация task.completed (опционально).
	Publisher CompletionPublisher

	// Conn — соединение RabbitMQ.
	Conn *mq.Connection

	// Registry — Step Registry (если nil — steps.DefaultRegistry()).
	Registry *steps.Registry

	// TaskQueues — task queues, которые обслуживает worker
	// (default: conduit-workflow-queue).
	TaskQueues []string

	// DefaultTimeout — таймаут попытки, если его нет в сообщении (default: 120s).
	DefaultTimeout time.Duration

	// Prefetch — параллельно обрабатываемые сообщения на очередь (default: 5).
	Prefetch int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = steps.DefaultRegistry(logger)
	}

	queues := cfg.TaskQueues
	if len(queues) == 0 {
		queues = []string{defaultTaskQueue}
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	return &Worker{
		tasks:          cfg.Tasks,
		publisher:      cfg.Publisher,
		conn:           cfg.Conn,
		registry:       registry,
		taskQueues:     queues,
		defaultTimeout: timeout,
		prefetch:       prefetch,
		metrics:        cfg.Metrics,
		logger:         logger,
	}
}

// Start объявляет очереди task queues и запускает consumers.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return errors.New("worker requires an AMQP connection")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"task_queues", w.taskQueues,
		"step_types", w.registry.Types(),
		"prefetch", w.prefetch,
	)

	for _, name := range w.taskQueues {
		if err := mq.DeclareTaskQueue(ctx, w.conn, name); err != nil {
			cancel()
			return fmt.Errorf("declare task queue %s: %w", name, err)
		}

		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.TaskQueue(name),
			Handler:  w.handleTaskReady,
			Prefetch: w.prefetch,
		})
		w.consumers = append(w.consumers, consumer)

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("task consumer error", "task_queue", name, "error", err)
			}
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	for _, c := range w.consumers {
		c.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// TaskQueues возвращает обслуживаемые task queues.
func (w *Worker) TaskQueues() []string {
	return w.taskQueues
}
