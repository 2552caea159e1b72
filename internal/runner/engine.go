package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/engine"
	"github.com/shaiso/Conduit/internal/mq"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/steps"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// Значения конфигурации по умолчанию.
const (
	DefaultTaskQueue    = "conduit-workflow-queue"
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
	defaultMaxActive    = 100

	// Попыток создать run со сгенерированным ID.
	maxRunIDAttempts = 5
)

// Notifier публикует события жизненного цикла run.
type Notifier interface {
	PublishRunPending(ctx context.Context, runID string) error
	PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error
}

// Config — конфигурация Engine.
type Config struct {
	// Runs — хранилище runs (обязательно).
	Runs repo.RunStore

	// Tasks — хранилище вызовов шагов (обязательно для дедупликации).
	Tasks repo.TaskStore

	// Registry — Step Registry. Используется для валидации типов
	// и для политик повторов.
	Registry *steps.Registry

	// Executor — исполнитель попыток. nil — LocalExecutor над Registry.
	Executor Executor

	// Notifier — публикация run.pending / run.finished (опционально).
	Notifier Notifier

	// Conn — соединение RabbitMQ для consumers (опционально).
	Conn *mq.Connection

	// Defaults — политика шагов по умолчанию.
	Defaults steps.Policy

	// DefaultTaskQueue — очередь шагов, если не задана ни в отправке,
	// ни в config.task_queue определения.
	DefaultTaskQueue string

	MaxSteps int

	// PollInterval — интервал polling pending и брошенных runs (default: 10s).
	PollInterval time.Duration

	// LeaseDuration — срок аренды run (default: 2 × PollInterval).
	// Аренда продлевается каждые LeaseDuration/3.
	LeaseDuration time.Duration

	// BatchSize — количество runs за один poll (default: 100).
	BatchSize int

	// MaxActiveRuns — лимит одновременно исполняемых runs (default: 100).
	MaxActiveRuns int

	// Owner — идентификатор процесса для аренды (default: hostname-pid).
	Owner string

	// RequireTrigger — отклонять определения без trigger-узла.
	RequireTrigger bool

	// Now и After подменяются в тестах.
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Submission — запрос на запуск workflow.
type Submission struct {
	// Definition — граф (обязателен).
	Definition domain.WorkflowDefinition

	// Inputs — начальные параметры.
	Inputs map[string]any

	// TaskQueue — очередь шагов run.
	TaskQueue string

	// IdempotencyKey — повторная отправка с тем же ключом вернёт существующий run.
	IdempotencyKey string

	// WorkflowID и Version — ссылка на зарегистрированный workflow.
	WorkflowID *uuid.UUID
	Version    int

	// RunID — явный ID run. По умолчанию "{definition.id}-{YYYYmmddHHMMSS}".
	RunID string
}

// RunView — ответ на запрос статуса run.
type RunView struct {
	RunID  string         `json:"runId"`
	Status string         `json:"status"`
	Report *domain.Report `json:"report,omitempty"`
	Run    *domain.Run    `json:"-"`
}

// activeRun — run, исполняемый этим процессом.
type activeRun struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

// Engine управляет исполнением множества runs.
//
// Engine:
//   - Принимает отправки, валидирует определения и создаёт runs
//   - Получает runs из очереди run.pending (event-driven)
//   - Периодически подбирает pending runs и runs с истёкшей арендой (fallback)
//   - Исполняет каждый run своим Controller в отдельной горутине
//   - Держит аренду run, пока он исполняется
//   - Отвечает на запросы статуса, состояния и отмены
type Engine struct {
	runs     repo.RunStore
	tasks    repo.TaskStore
	registry *steps.Registry
	invoker  *Invoker
	remote   *RemoteExecutor
	notifier Notifier
	conn     *mq.Connection

	defaultTaskQueue string
	maxSteps         int
	pollInterval     time.Duration
	leaseDuration    time.Duration
	batchSize        int
	maxActiveRuns    int
	owner            string
	requireTrigger   bool
	localSteps       bool
	now              func() time.Time
	after            func(d time.Duration) <-chan time.Time

	activeRuns map[string]*activeRun
	mu         sync.RWMutex

	runConsumer  *mq.Consumer
	taskConsumer *mq.Consumer

	metrics    *telemetry.Metrics
	logger     *slog.Logger
	baseCtx    context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = steps.NewRegistry()
	}

	executor := cfg.Executor
	localSteps := executor == nil
	if localSteps {
		executor = NewLocalExecutor(registry)
	}
	remote, _ := executor.(*RemoteExecutor)

	taskQueue := cfg.DefaultTaskQueue
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = 2 * pollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxActive := cfg.MaxActiveRuns
	if maxActive <= 0 {
		maxActive = defaultMaxActive
	}

	owner := cfg.Owner
	if owner == "" {
		owner = defaultOwner()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		runs:     cfg.Runs,
		tasks:    cfg.Tasks,
		registry: registry,
		invoker: NewInvoker(InvokerConfig{
			Executor: executor,
			Registry: registry,
			Tasks:    cfg.Tasks,
			Defaults: cfg.Defaults,
			Metrics:  cfg.Metrics,
			Logger:   logger,
		}),
		remote:           remote,
		notifier:         cfg.Notifier,
		conn:             cfg.Conn,
		defaultTaskQueue: taskQueue,
		maxSteps:         maxSteps,
		pollInterval:     pollInterval,
		leaseDuration:    leaseDuration,
		batchSize:        batchSize,
		maxActiveRuns:    maxActive,
		owner:            owner,
		requireTrigger:   cfg.RequireTrigger,
		localSteps:       localSteps,
		now:              now,
		after:            cfg.After,
		activeRuns:       make(map[string]*activeRun),
		metrics:          cfg.Metrics,
		logger:           logger,
	}
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "conduit"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Submit валидирует определение и создаёт run.
//
// Если Engine запущен и есть свободный слот, run стартует сразу в этом
// процессе; иначе публикуется run.pending и run подбирает любой оркестратор.
// Повторная отправка с тем же ключом идемпотентности возвращает
// существующий run. Явный RunID, который уже занят, даёт ErrRunExists.
// Сгенерированный ID, совпавший с чужим run той же секунды, получает
// случайный суффикс.
func (e *Engine) Submit(ctx context.Context, sub Submission) (*domain.Run, error) {
	if e.IsStopped() {
		return nil, ErrEngineStopped
	}

	def := engine.NormalizeEdges(&sub.Definition)
	if err := engine.Validate(def, e.validateOptions()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	if sub.IdempotencyKey != "" {
		existing, err := e.runs.GetByIdempotencyKey(ctx, sub.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	now := e.now()
	runID := sub.RunID
	if runID == "" {
		runID = domain.NewRunID(def.ID, now)
	}

	entry, _ := def.Entry()
	run := &domain.Run{
		ID:             runID,
		WorkflowID:     sub.WorkflowID,
		Version:        sub.Version,
		Definition:     *def,
		TaskQueue:      e.resolveTaskQueue(sub.TaskQueue, def),
		Status:         domain.RunStatusPending,
		Inputs:         sub.Inputs,
		Checkpoint:     domain.NewCheckpoint(entry.ID),
		IdempotencyKey: sub.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 1; ; attempt++ {
		err := e.runs.Create(ctx, run)
		if err == nil {
			break
		}
		if !errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("create run: %w", err)
		}
		if sub.IdempotencyKey != "" {
			// Параллельная отправка с тем же ключом успела раньше
			existing, getErr := e.runs.GetByIdempotencyKey(ctx, sub.IdempotencyKey)
			if getErr == nil {
				return existing, nil
			}
		}
		if sub.RunID != "" {
			return nil, fmt.Errorf("%w: %s", ErrRunExists, sub.RunID)
		}
		if attempt >= maxRunIDAttempts {
			return nil, fmt.Errorf("create run: %w", err)
		}
		run.ID = fmt.Sprintf("%s-%s", runID, uuid.NewString()[:8])
	}

	e.logger.Info("run submitted",
		"run_id", run.ID,
		"nodes", len(def.Nodes),
		"task_queue", run.TaskQueue,
	)

	if e.canLaunch() {
		e.launch(run.ID)
		return run, nil
	}

	if e.notifier != nil {
		if err := e.notifier.PublishRunPending(ctx, run.ID); err != nil {
			// Run уже в хранилище, его подберёт polling
			e.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	return run, nil
}

// validateOptions возвращает опции валидации отправки. Типы шагов
// проверяются по реестру только при локальном исполнении: удалённые
// worker'ы могут знать типы, которых нет в этом процессе.
func (e *Engine) validateOptions() engine.ValidateOptions {
	opts := engine.ValidateOptions{RequireTrigger: e.requireTrigger}
	if e.localSteps {
		opts.IsKnownType = func(stepType string) bool {
			return engine.IsBuiltinStepType(stepType) || e.registry.Has(stepType)
		}
	}
	return opts
}

func (e *Engine) resolveTaskQueue(requested string, def *domain.WorkflowDefinition) string {
	if requested != "" {
		return requested
	}
	if q := def.TaskQueue(); q != "" {
		return q
	}
	return e.defaultTaskQueue
}

// ExecuteRun захватывает run и исполняет его до финального состояния
// или приостановки.
//
// Возвращает отчёт для завершённого run. nil-отчёт без ошибки означает,
// что run приостановлен (остановка процесса) и будет продолжен из checkpoint.
func (e *Engine) ExecuteRun(ctx context.Context, runID string) (*domain.Report, error) {
	if err := e.reserve(runID); err != nil {
		return nil, err
	}
	defer e.removeActiveRun(runID)

	now := e.now()
	run, err := e.runs.Claim(ctx, runID, e.owner, now, now.Add(e.leaseDuration))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("claim run %s: %w", runID, err)
	}

	logger := telemetry.WithRunID(e.logger, run.ID)

	ctrl, err := NewController(run, ControllerConfig{
		Invoker:     e.invoker,
		Checkpoints: e.runs,
		MaxSteps:    e.maxSteps,
		Now:         e.now,
		After:       e.after,
		Metrics:     e.metrics,
		Logger:      e.logger,
	})
	if err != nil {
		report := &domain.Report{
			Status:        domain.QueryStatusFailed,
			ExecutionPath: []string{},
			FinalResults:  map[string]domain.StepResult{},
			Error:         err.Error(),
		}
		run.MarkFailed(err.Error(), report)
		if updErr := e.runs.Update(context.WithoutCancel(ctx), run); updErr != nil {
			return nil, fmt.Errorf("update run: %w", updErr)
		}
		e.publishFinished(ctx, run)
		return report, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.setActiveRun(runID, &activeRun{ctrl: ctrl, cancel: cancel})

	stopHeartbeat := e.startHeartbeat(runCtx, run.ID, cancel)
	defer stopHeartbeat()

	e.metrics.RunStarted()
	report, runErr := ctrl.Run(runCtx)

	if report == nil {
		e.metrics.RunSuspended()
		logger.Info("run suspended", "reason", runErr)
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, runErr
	}

	switch report.Status {
	case domain.QueryStatusCompleted:
		run.MarkCompleted(report)
	case domain.QueryStatusCancelled:
		run.MarkCancelled(report)
	default:
		run.MarkFailed(report.Error, report)
	}
	run.Checkpoint = ctrl.Checkpoint()

	// Финальное состояние записывается даже при остановке процесса
	if err := e.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		e.metrics.RunSuspended()
		return nil, fmt.Errorf("update run: %w", err)
	}

	e.metrics.RunFinished(report.Status)
	e.publishFinished(ctx, run)

	return report, nil
}

// startHeartbeat продлевает аренду run. Если аренду перехватил
// другой процесс, исполнение прерывается.
func (e *Engine) startHeartbeat(ctx context.Context, runID string, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(max(e.leaseDuration/3, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				err := e.runs.RenewLease(ctx, runID, e.owner, e.now().Add(e.leaseDuration))
				if errors.Is(err, repo.ErrNotClaimed) {
					e.logger.Warn("run lease lost", "run_id", runID)
					cancel()
					return
				}
				if err != nil {
					e.logger.Warn("failed to renew lease", "run_id", runID, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *Engine) publishFinished(ctx context.Context, run *domain.Run) {
	if e.notifier == nil {
		return
	}

	payload := mq.RunFinishedPayload{
		RunID:  run.ID,
		Status: run.Status.QueryStatus(),
		Error:  run.Error,
	}
	if run.Report != nil {
		payload.FailedNode = run.Report.FailedNode
	}

	if err := e.notifier.PublishRunFinished(context.WithoutCancel(ctx), payload); err != nil {
		e.logger.Warn("failed to publish run.finished", "run_id", run.ID, "error", err)
	}
}

// Status возвращает статус run: running, completed, failed, cancelled
// или not-found, и отчёт для завершённого run.
func (e *Engine) Status(ctx context.Context, runID string) (RunView, error) {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RunView{RunID: runID, Status: domain.QueryStatusNotFound}, nil
		}
		return RunView{}, fmt.Errorf("get run: %w", err)
	}

	view := RunView{
		RunID:  run.ID,
		Status: run.Status.QueryStatus(),
		Run:    run,
	}
	if run.IsFinished() {
		view.Report = run.Report
	}
	return view, nil
}

// Query возвращает снимок {nodeResults, executionPath} run. Для run,
// исполняемого этим процессом, это живое состояние контроллера,
// иначе — последний сохранённый checkpoint.
func (e *Engine) Query(ctx context.Context, runID string) (Snapshot, error) {
	if active := e.getActiveRun(runID); active != nil && active.ctrl != nil {
		return active.ctrl.Snapshot(), nil
	}

	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return Snapshot{}, fmt.Errorf("get run: %w", err)
	}

	return restoreState(run.Checkpoint).Snapshot(), nil
}

// Cancel запрашивает отмену run.
//
// Флаг отмены сохраняется в хранилище, поэтому его увидит любой
// оркестратор, исполняющий run. Ещё не начатый run завершается
// как cancelled сразу.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if err := e.runs.RequestCancel(ctx, runID); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		case errors.Is(err, repo.ErrInvalidState):
			return fmt.Errorf("%w: %s", ErrRunFinished, runID)
		}
		return fmt.Errorf("request cancel: %w", err)
	}

	if active := e.getActiveRun(runID); active != nil {
		if active.ctrl != nil {
			active.ctrl.Cancel()
		}
		e.logger.Info("cancel requested", "run_id", runID)
		return nil
	}

	run, err := e.runs.GetByID(ctx, runID)
	if err != nil || run.Status != domain.RunStatusPending {
		// RUNNING в другом процессе: флаг подхватит его poll
		return nil
	}

	// Run ещё не начат: исполнение сразу завершится как cancelled
	if _, err := e.ExecuteRun(ctx, runID); err != nil &&
		!errors.Is(err, ErrRunAlreadyActive) && !errors.Is(err, repo.ErrNotClaimed) {
		return err
	}
	return nil
}

// Start запускает Engine.
//
// Запускает:
//   - Consumer для runs.pending (если задан Conn)
//   - Consumer для tasks.completed (если шаги исполняются удалённо)
//   - Polling горутину для fallback, возобновления и отмены
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	e.stoppedMu.Lock()
	e.baseCtx = ctx
	e.cancelFunc = cancel
	e.stoppedMu.Unlock()

	e.logger.Info("starting engine",
		"owner", e.owner,
		"poll_interval", e.pollInterval,
		"lease", e.leaseDuration,
		"max_active_runs", e.maxActiveRuns,
		"remote_steps", e.remote != nil,
	)

	if e.conn != nil {
		e.runConsumer = mq.NewConsumer(e.conn, e.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsPending,
			Handler:  e.handleRunPending,
			Prefetch: 10,
		})
		e.goConsume(ctx, "run", e.runConsumer)

		if e.remote != nil {
			e.taskConsumer = mq.NewConsumer(e.conn, e.logger, mq.ConsumerConfig{
				Queue:    mq.QueueTasksCompleted,
				Handler:  e.remote.HandleTaskCompleted,
				Prefetch: 50,
			})
			e.goConsume(ctx, "task", e.taskConsumer)
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()

	e.logger.Info("engine started")
	return nil
}

func (e *Engine) goConsume(ctx context.Context, name string, consumer *mq.Consumer) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("consumer error", "consumer", name, "error", err)
		}
	}()
}

// Stop останавливает Engine. Исполняемые runs приостанавливаются
// и будут продолжены из checkpoint после истечения аренды.
func (e *Engine) Stop() {
	e.stoppedMu.Lock()
	e.stopped = true
	cancel := e.cancelFunc
	e.stoppedMu.Unlock()

	e.logger.Info("stopping engine...")

	if cancel != nil {
		cancel()
	}
	if e.runConsumer != nil {
		e.runConsumer.Stop()
	}
	if e.taskConsumer != nil {
		e.taskConsumer.Stop()
	}

	e.wg.Wait()

	e.logger.Info("engine stopped")
}

// IsStopped проверяет, остановлен ли Engine.
func (e *Engine) IsStopped() bool {
	e.stoppedMu.RLock()
	defer e.stoppedMu.RUnlock()
	return e.stopped
}

// handleRunPending обрабатывает событие о новом pending run.
func (e *Engine) handleRunPending(_ context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		e.logger.Error("failed to parse run.pending payload", "error", err)
		return mq.Permanent(err)
	}

	if e.isRunActive(payload.RunID) {
		e.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	// Без свободного слота run остаётся PENDING до следующего poll
	if e.canLaunch() {
		e.launch(payload.RunID)
	}
	return nil
}

// pollLoop — цикл polling для fallback.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, брошенные до рестарта)
	e.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (e *Engine) poll(ctx context.Context) {
	e.propagateCancels(ctx)

	pending, err := e.runs.ListPending(ctx, e.batchSize)
	if err != nil {
		e.logger.Error("failed to list pending runs", "error", err)
		return
	}

	expired, err := e.runs.ListExpired(ctx, e.now(), e.batchSize)
	if err != nil {
		e.logger.Error("failed to list expired runs", "error", err)
		return
	}

	if len(pending)+len(expired) > 0 {
		e.logger.Debug("poll found runs", "pending", len(pending), "expired", len(expired))
	}

	for _, run := range append(pending, expired...) {
		if !e.canLaunch() {
			return
		}
		if e.isRunActive(run.ID) {
			continue
		}
		if run.Status == domain.RunStatusRunning {
			e.logger.Info("resuming abandoned run", "run_id", run.ID, "previous_owner", run.LeaseOwner)
		}
		e.launch(run.ID)
	}
}

// propagateCancels передаёт контроллерам флаги отмены,
// выставленные через другие процессы.
func (e *Engine) propagateCancels(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.activeRuns))
	for id := range e.activeRuns {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		run, err := e.runs.GetByID(ctx, id)
		if err != nil || !run.CancelRequested {
			continue
		}
		if active := e.getActiveRun(id); active != nil && active.ctrl != nil {
			active.ctrl.Cancel()
		}
	}
}

// canLaunch проверяет, что Engine запущен и есть свободный слот.
func (e *Engine) canLaunch() bool {
	e.stoppedMu.RLock()
	running := e.baseCtx != nil && !e.stopped
	e.stoppedMu.RUnlock()

	return running && e.ActiveRunsCount() < e.maxActiveRuns
}

// launch исполняет run в отдельной горутине.
func (e *Engine) launch(runID string) {
	e.stoppedMu.RLock()
	ctx := e.baseCtx
	e.stoppedMu.RUnlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		if _, err := e.ExecuteRun(ctx, runID); err != nil {
			if errors.Is(err, ErrRunAlreadyActive) || errors.Is(err, repo.ErrNotClaimed) {
				e.logger.Debug("run not processed", "run_id", runID, "reason", err)
				return
			}
			e.logger.Error("run execution failed", "run_id", runID, "error", err)
		}
	}()
}

// reserve занимает слот run до захвата аренды, чтобы один процесс
// не исполнял run дважды.
func (e *Engine) reserve(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.activeRuns[runID]; exists {
		return fmt.Errorf("%w: %s", ErrRunAlreadyActive, runID)
	}
	e.activeRuns[runID] = &activeRun{}
	return nil
}

func (e *Engine) setActiveRun(runID string, run *activeRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeRuns[runID] = run
}

// isRunActive проверяет, находится ли run в обработке.
func (e *Engine) isRunActive(runID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.activeRuns[runID]
	return exists
}

// getActiveRun возвращает активный run.
func (e *Engine) getActiveRun(runID string) *activeRun {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeRuns[runID]
}

// removeActiveRun удаляет run из активных.
func (e *Engine) removeActiveRun(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (e *Engine) ActiveRunsCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.activeRuns)
}

// Registry возвращает Step Registry движка.
func (e *Engine) Registry() *steps.Registry {
	return e.registry
}

// Owner возвращает идентификатор процесса в арендах.
func (e *Engine) Owner() string {
	return e.owner
}
