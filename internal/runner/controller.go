package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/engine"
	"github.com/shaiso/Conduit/internal/steps"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// DefaultMaxSteps — лимит выполненных узлов на один run.
const DefaultMaxSteps = 1000

// Phase — состояние контроллера run.
//
//	Ready → Resolving → Invoking → Routing → Resolving → ...
//	                                       ↘ Completed
//	            ↘ Cancelled     ↘ Failed
type Phase string

const (
	PhaseReady     Phase = "ready"
	PhaseResolving Phase = "resolving"
	PhaseInvoking  Phase = "invoking"
	PhaseRouting   Phase = "routing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// errWaitCancelled — ожидание прервано запросом отмены.
var errWaitCancelled = errors.New("wait interrupted by cancellation")

// CheckpointStore — хранилище checkpoint'ов run.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, runID string, cp domain.Checkpoint) error
}

// ControllerConfig — зависимости контроллера.
type ControllerConfig struct {
	// Invoker — прослойка вызова шагов (обязателен).
	Invoker *Invoker

	// Checkpoints — хранилище checkpoint'ов. nil — состояние
	// живёт только в памяти.
	Checkpoints CheckpointStore

	// MaxSteps — лимит выполненных узлов (по умолчанию DefaultMaxSteps).
	MaxSteps int

	// Now и After подменяются в тестах для wait-узлов.
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Controller проходит граф одного run, узел за узлом.
//
// Ровно один узел исполняется в каждый момент. Позиция в графе и
// ExecutionState записываются в checkpoint при старте, перед каждым
// ожиданием и после каждого завершённого узла, поэтому run можно
// продолжить в другом процессе.
type Controller struct {
	run     *domain.Run
	graph   *engine.Graph
	state   *ExecutionState
	invoker *Invoker
	store   CheckpointStore

	maxSteps int
	now      func() time.Time
	after    func(d time.Duration) <-chan time.Time
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu        sync.RWMutex
	phase     Phase
	current   string
	steps     int
	waitUntil *time.Time
	warnings  []string

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// NewController создаёт контроллер для run.
//
// Если у run есть checkpoint с пройденным путём или текущим узлом,
// контроллер продолжает с сохранённой позиции.
func NewController(run *domain.Run, cfg ControllerConfig) (*Controller, error) {
	if len(run.Definition.Nodes) == 0 {
		return nil, ErrEmptyWorkflow
	}

	graph, err := engine.NewGraph(&run.Definition)
	if err != nil {
		if errors.Is(err, engine.ErrMalformedGraph) {
			return nil, ErrEmptyWorkflow
		}
		return nil, fmt.Errorf("build graph: %w", err)
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	after := cfg.After
	if after == nil {
		after = time.After
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		run:      run,
		graph:    graph,
		invoker:  cfg.Invoker,
		store:    cfg.Checkpoints,
		maxSteps: maxSteps,
		now:      now,
		after:    after,
		metrics:  cfg.Metrics,
		logger:   telemetry.WithRunID(logger, run.ID),
		phase:    PhaseReady,
		cancelCh: make(chan struct{}),
	}

	cp := run.Checkpoint
	if cp.CurrentNode != "" || len(cp.ExecutionPath) > 0 {
		c.state = restoreState(cp)
		c.current = cp.CurrentNode
		c.steps = cp.Steps
		c.waitUntil = cp.WaitUntil
		c.warnings = slices.Clone(cp.Warnings)
	} else {
		c.state = NewExecutionState()
		c.current = graph.Entry().ID
	}

	if run.CancelRequested {
		c.Cancel()
	}

	return c, nil
}

// Run исполняет граф до финального состояния.
//
// Возвращает отчёт для completed, failed и cancelled. Для failed
// вместе с отчётом возвращается причина (*StepInvocationError или
// ErrCycleLimitExceeded). Если отчёт nil, run приостановлен: отменён
// ctx или недоступно хранилище; его можно продолжить из checkpoint.
func (c *Controller) Run(ctx context.Context) (*domain.Report, error) {
	c.logger.Info("run started", "current_node", c.currentNode(), "resumed", c.state.Len() > 0)

	if err := c.saveCheckpoint(ctx); err != nil {
		return nil, err
	}

	for {
		c.setPhase(PhaseResolving)

		current := c.currentNode()
		if current == "" {
			return c.finish(PhaseCompleted, "", ""), nil
		}

		if c.cancelRequested() {
			return c.finish(PhaseCancelled, "", ""), nil
		}

		node, ok := c.graph.FindNode(current)
		if !ok {
			c.warn(fmt.Sprintf("%v: %s", ErrUnknownNode, current))
			return c.finish(PhaseCompleted, "", ""), nil
		}

		if c.stepCount() >= c.maxSteps {
			err := fmt.Errorf("%w: %d node executions", ErrCycleLimitExceeded, c.maxSteps)
			c.logger.Error("cycle limit exceeded", "node_id", node.ID, "max_steps", c.maxSteps)
			return c.finish(PhaseFailed, node.ID, err.Error()), err
		}

		_, previous, ok := c.state.Last()
		if !ok {
			previous = domain.StepResult(c.run.Inputs)
		}
		params := engine.Bind(node, previous, c.run.ID)

		c.setPhase(PhaseInvoking)
		result, err := c.execute(ctx, node, params)
		if err != nil {
			return c.handleError(ctx, node, err)
		}

		c.state.Record(node.ID, result)

		c.setPhase(PhaseRouting)
		decision := engine.Route(c.graph, node.ID, result)
		c.metrics.RouteDecision(string(decision.Rule))
		if decision.Warning != nil {
			c.warn(decision.Warning.Error())
		}

		c.advance(decision.Target)
		if err := c.saveCheckpoint(ctx); err != nil {
			return nil, err
		}

		c.logger.Debug("node completed",
			"node_id", node.ID,
			"rule", decision.Rule,
			"next", decision.Target,
		)
	}
}

// execute выполняет узел в зависимости от его типа.
func (c *Controller) execute(ctx context.Context, node domain.Node, params domain.Params) (domain.StepResult, error) {
	switch node.Type {
	case "", domain.StepTypeTrigger:
		return domain.SkippedResult(), nil
	case domain.StepTypeWait:
		return c.wait(ctx, node, params)
	default:
		return c.invoker.Invoke(ctx, Call{
			RunID:     c.run.ID,
			Node:      node,
			Seq:       c.state.Len(),
			Params:    params,
			TaskQueue: c.run.TaskQueue,
		})
	}
}

// wait ждёт интервал wait-узла. Момент окончания сохраняется в
// checkpoint до начала ожидания: после рестарта остаётся только остаток.
func (c *Controller) wait(ctx context.Context, node domain.Node, params domain.Params) (domain.StepResult, error) {
	interval, warning := steps.WaitInterval(params)
	if warning != "" {
		c.warn(fmt.Sprintf("node %s: %s", node.ID, warning))
	}

	c.mu.Lock()
	if c.waitUntil == nil {
		until := c.now().Add(interval)
		c.waitUntil = &until
	}
	until := *c.waitUntil
	c.mu.Unlock()

	if err := c.saveCheckpoint(ctx); err != nil {
		return nil, err
	}

	if remaining := until.Sub(c.now()); remaining > 0 {
		c.logger.Info("waiting", "node_id", node.ID, "interval", interval, "until", until)

		select {
		case <-c.after(remaining):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.cancelCh:
			return nil, errWaitCancelled
		}
	}

	return steps.WaitResult(interval), nil
}

// handleError переводит ошибку узла в финальное состояние или приостановку.
func (c *Controller) handleError(ctx context.Context, node domain.Node, err error) (*domain.Report, error) {
	if errors.Is(err, errWaitCancelled) {
		return c.finish(PhaseCancelled, "", ""), nil
	}

	var invErr *StepInvocationError
	if errors.As(err, &invErr) {
		msg := invErr.Message()
		c.state.Record(node.ID, domain.FailedResult(msg))
		c.mu.Lock()
		c.steps++
		c.mu.Unlock()
		return c.finish(PhaseFailed, node.ID, msg), err
	}

	if ctx.Err() != nil {
		c.logger.Info("run suspended", "node_id", node.ID, "reason", ctx.Err())
	} else {
		c.logger.Error("run suspended on infrastructure error", "node_id", node.ID, "error", err)
	}
	return nil, err
}

// finish переводит контроллер в финальную фазу и строит отчёт.
func (c *Controller) finish(phase Phase, failedNode, errMsg string) *domain.Report {
	c.setPhase(phase)

	snap := c.state.Snapshot()
	report := &domain.Report{
		Status:        string(phase),
		ExecutionPath: snap.ExecutionPath,
		FinalResults:  snap.NodeResults,
		FailedNode:    failedNode,
		Error:         errMsg,
		Warnings:      c.Warnings(),
	}

	c.logger.Info("run finished",
		"status", report.Status,
		"steps", len(report.ExecutionPath),
		"failed_node", failedNode,
	)
	return report
}

// advance переходит к следующему узлу после успешного шага.
func (c *Controller) advance(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = target
	c.steps++
	c.waitUntil = nil
}

// warn записывает нефатальное предупреждение (без дубликатов после resume).
func (c *Controller) warn(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.Contains(c.warnings, msg) {
		return
	}
	c.warnings = append(c.warnings, msg)
	c.logger.Warn(msg, "node_id", c.current)
}

// saveCheckpoint записывает текущую позицию и состояние.
func (c *Controller) saveCheckpoint(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveCheckpoint(ctx, c.run.ID, c.Checkpoint()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Checkpoint возвращает текущий checkpoint.
func (c *Controller) Checkpoint() domain.Checkpoint {
	c.mu.RLock()
	current, steps := c.current, c.steps
	var waitUntil *time.Time
	if c.waitUntil != nil {
		w := *c.waitUntil
		waitUntil = &w
	}
	warnings := slices.Clone(c.warnings)
	c.mu.RUnlock()

	cp := c.state.checkpoint(current, steps)
	cp.WaitUntil = waitUntil
	cp.Warnings = warnings
	return cp
}

// Cancel запрашивает отмену. Учитывается в начале следующего Resolving;
// текущий вызов шага доводится до конца, ожидание wait-узла прерывается.
func (c *Controller) Cancel() {
	c.cancelOnce.Do(func() { close(c.cancelCh) })
}

func (c *Controller) cancelRequested() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// Snapshot возвращает копию ExecutionState.
func (c *Controller) Snapshot() Snapshot {
	return c.state.Snapshot()
}

// Phase возвращает текущую фазу.
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Warnings возвращает накопленные предупреждения.
func (c *Controller) Warnings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.warnings)
}

// RunID возвращает ID run.
func (c *Controller) RunID() string {
	return c.run.ID
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

func (c *Controller) currentNode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Controller) stepCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.steps
}
