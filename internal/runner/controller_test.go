package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/engine"
	"github.com/shaiso/Conduit/internal/repo/memory"
	"github.com/shaiso/Conduit/internal/steps"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

// counter — шаг, считающий вызовы по узлам.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCounter() *counter {
	return &counter{calls: make(map[string]int)}
}

func (c *counter) inc(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[nodeID]++
}

func (c *counter) get(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[nodeID]
}

// testHarness собирает контроллер над in-memory хранилищами.
type testHarness struct {
	registry *steps.Registry
	runs     *memory.RunStore
	tasks    *memory.TaskStore
	calls    *counter
}

func newHarness() *testHarness {
	h := &testHarness{
		registry: steps.NewRegistry(),
		runs:     memory.NewRunStore(),
		tasks:    memory.NewTaskStore(),
		calls:    newCounter(),
	}

	h.registry.Register(steps.NewFuncStep("echo", func(_ context.Context, req *steps.Request) (domain.StepResult, error) {
		h.calls.inc(req.NodeID)
		return domain.StepResult{"status": "ok", "node": req.NodeID}, nil
	}))
	h.registry.Register(steps.NewFuncStep("fail", func(_ context.Context, req *steps.Request) (domain.StepResult, error) {
		h.calls.inc(req.NodeID)
		return nil, errors.New("boom")
	}))

	return h
}

func (h *testHarness) invoker() *Invoker {
	return NewInvoker(InvokerConfig{
		Executor: NewLocalExecutor(h.registry),
		Registry: h.registry,
		Tasks:    h.tasks,
		Sleep:    noSleep,
		Logger:   discardLogger(),
	})
}

func (h *testHarness) newRun(t *testing.T, def domain.WorkflowDefinition, inputs map[string]any) *domain.Run {
	t.Helper()

	run := &domain.Run{
		ID:         "run-1",
		Definition: def,
		Status:     domain.RunStatusRunning,
		Inputs:     inputs,
		CreatedAt:  time.Now(),
	}
	if len(def.Nodes) > 0 {
		run.Checkpoint = domain.NewCheckpoint(def.Nodes[0].ID)
	}
	if err := h.runs.Create(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func (h *testHarness) controller(t *testing.T, run *domain.Run, modify func(*ControllerConfig)) *Controller {
	t.Helper()

	cfg := ControllerConfig{
		Invoker:     h.invoker(),
		Checkpoints: h.runs,
		Logger:      discardLogger(),
	}
	if modify != nil {
		modify(&cfg)
	}

	ctrl, err := NewController(run, cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl
}

func chain(types ...string) domain.WorkflowDefinition {
	def := domain.WorkflowDefinition{ID: "wf"}
	for i, typ := range types {
		id := string(rune('A' + i))
		def.Nodes = append(def.Nodes, domain.Node{ID: id, Type: typ})
		if i > 0 {
			prev := string(rune('A' + i - 1))
			def.Edges = append(def.Edges, domain.Edge{Source: prev, Target: id})
		}
	}
	return def
}

func equalPath(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewController_EmptyWorkflow(t *testing.T) {
	_, err := NewController(&domain.Run{ID: "r"}, ControllerConfig{})
	if !errors.Is(err, ErrEmptyWorkflow) {
		t.Errorf("expected ErrEmptyWorkflow, got %v", err)
	}
}

func TestController_LinearChain(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("echo", "echo", "echo"), nil)
	ctrl := h.controller(t, run, nil)

	report, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Status != domain.QueryStatusCompleted {
		t.Errorf("expected completed, got %s", report.Status)
	}
	if !equalPath(report.ExecutionPath, []string{"A", "B", "C"}) {
		t.Errorf("expected path [A B C], got %v", report.ExecutionPath)
	}
	if len(report.FinalResults) != 3 {
		t.Errorf("expected 3 results, got %d", len(report.FinalResults))
	}
	if ctrl.Phase() != PhaseCompleted {
		t.Errorf("expected phase completed, got %s", ctrl.Phase())
	}

	stored, _ := h.runs.GetByID(context.Background(), run.ID)
	if stored.Checkpoint.CurrentNode != "" {
		t.Errorf("expected empty current node in final checkpoint, got %q", stored.Checkpoint.CurrentNode)
	}
	if !equalPath(stored.Checkpoint.ExecutionPath, []string{"A", "B", "C"}) {
		t.Errorf("checkpoint path mismatch: %v", stored.Checkpoint.ExecutionPath)
	}
}

func TestController_NoOutgoingEdges(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("echo"), nil)

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.QueryStatusCompleted {
		t.Errorf("expected completed, got %s", report.Status)
	}
	if !equalPath(report.ExecutionPath, []string{"A"}) {
		t.Errorf("expected path [A], got %v", report.ExecutionPath)
	}
}

func TestController_SkippedNodeWithoutType(t *testing.T) {
	h := newHarness()
	def := chain(domain.StepTypeTrigger, "", "echo")
	run := h.newRun(t, def, nil)

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range []string{"A", "B"} {
		if status, _ := report.FinalResults[id].Status(); status != domain.ResultStatusSkipped {
			t.Errorf("node %s: expected skipped, got %q", id, status)
		}
	}
	if h.calls.get("C") != 1 {
		t.Errorf("expected C to be invoked once")
	}
}

func TestController_DanglingNodeIsNonFatal(t *testing.T) {
	h := newHarness()
	def := chain("echo")
	def.Edges = []domain.Edge{{Source: "A", Target: "ghost"}}
	run := h.newRun(t, def, nil)

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.QueryStatusCompleted {
		t.Errorf("expected completed, got %s", report.Status)
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "ghost") {
		t.Errorf("expected unknown node warning, got %v", report.Warnings)
	}
}

func TestController_CompletenessRouting(t *testing.T) {
	h := newHarness()
	h.registry.Register(steps.NewFuncStep("parse", func(context.Context, *steps.Request) (domain.StepResult, error) {
		return domain.StepResult{"completeness": "partial", "isGibberish": false}, nil
	}))

	def := domain.WorkflowDefinition{
		Nodes: []domain.Node{
			{ID: "parse", Type: "parse"},
			{ID: "done", Type: "echo"},
			{ID: "followup", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "parse", Target: "done", Label: "complete"},
			{Source: "parse", Target: "followup", Label: "partial"},
		},
	}
	run := h.newRun(t, def, nil)

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalPath(report.ExecutionPath, []string{"parse", "followup"}) {
		t.Errorf("expected [parse followup], got %v", report.ExecutionPath)
	}
}

func TestController_RoutingAmbiguityWarning(t *testing.T) {
	h := newHarness()
	h.registry.Register(steps.NewFuncStep("parse", func(context.Context, *steps.Request) (domain.StepResult, error) {
		return domain.StepResult{"completeness": "partial"}, nil
	}))

	def := domain.WorkflowDefinition{
		Nodes: []domain.Node{
			{ID: "parse", Type: "parse"},
			{ID: "first", Type: "echo"},
			{ID: "second", Type: "echo"},
		},
		Edges: []domain.Edge{
			{Source: "parse", Target: "first", Label: "yes"},
			{Source: "parse", Target: "second", Label: "no"},
		},
	}
	run := h.newRun(t, def, nil)

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalPath(report.ExecutionPath, []string{"parse", "first"}) {
		t.Errorf("expected default edge, got %v", report.ExecutionPath)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", report.Warnings)
	}
}

func TestController_RetryThenFail(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("fail", "echo"), nil)

	report, err := h.controller(t, run, nil).Run(context.Background())

	var invErr *StepInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected StepInvocationError, got %v", err)
	}
	if invErr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", invErr.Attempts)
	}
	if h.calls.get("A") != 3 {
		t.Errorf("expected step invoked 3 times, got %d", h.calls.get("A"))
	}
	if h.calls.get("B") != 0 {
		t.Errorf("B must not run after failure")
	}

	if report.Status != domain.QueryStatusFailed {
		t.Errorf("expected failed, got %s", report.Status)
	}
	if report.FailedNode != "A" || report.Error != "boom" {
		t.Errorf("unexpected failure info: node=%q error=%q", report.FailedNode, report.Error)
	}
	result := report.FinalResults["A"]
	if status, _ := result.Status(); status != domain.ResultStatusFailed || result[domain.FieldError] != "boom" {
		t.Errorf("unexpected failed result: %v", result)
	}

	task, err := h.tasks.GetByDedupKey(context.Background(), domain.DedupKey(run.ID, "A", 0))
	if err != nil {
		t.Fatalf("task not stored: %v", err)
	}
	if task.Status != domain.TaskStatusFailed || task.Attempt != 3 {
		t.Errorf("unexpected task state: %s attempt %d", task.Status, task.Attempt)
	}
}

func TestController_NodeRetryOverride(t *testing.T) {
	h := newHarness()
	def := chain("fail")
	def.Nodes[0].Retry = &domain.RetryPolicy{MaxAttempts: 1}
	run := h.newRun(t, def, nil)

	_, err := h.controller(t, run, nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if h.calls.get("A") != 1 {
		t.Errorf("expected a single attempt, got %d", h.calls.get("A"))
	}
}

func TestController_UnknownStepTypeFailsWithoutRetry(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("missing"), nil)

	report, err := h.controller(t, run, nil).Run(context.Background())

	var invErr *StepInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected StepInvocationError, got %v", err)
	}
	if invErr.Attempts != 1 {
		t.Errorf("unknown step must not be retried, got %d attempts", invErr.Attempts)
	}
	if !errors.Is(err, steps.ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound in chain, got %v", err)
	}
	if report.Status != domain.QueryStatusFailed {
		t.Errorf("expected failed, got %s", report.Status)
	}
}

func TestController_WaitNode(t *testing.T) {
	tests := []struct {
		name        string
		params      domain.Params
		wantWait    time.Duration
		wantWarning bool
	}{
		{"minutes", domain.Params{"duration": 2, "unit": "minutes"}, 2 * time.Minute, false},
		{"seconds string", domain.Params{"duration": "30", "unit": "seconds"}, 30 * time.Second, false},
		{"no unit means seconds", domain.Params{"duration": 2}, 2 * time.Second, false},
		{"unknown unit means seconds", domain.Params{"duration": 3, "unit": "weeks"}, 3 * time.Second, true},
		{"negative clamps to zero", domain.Params{"duration": -5, "unit": "seconds"}, 0, true},
		{"not a number", domain.Params{"duration": "soon", "unit": "days"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			def := domain.WorkflowDefinition{
				Nodes: []domain.Node{{ID: "wait", Type: domain.StepTypeWait, Params: tt.params}},
			}
			run := h.newRun(t, def, nil)

			fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			var waited time.Duration
			ctrl := h.controller(t, run, func(cfg *ControllerConfig) {
				cfg.Now = func() time.Time { return fixed }
				cfg.After = func(d time.Duration) <-chan time.Time {
					waited = d
					ch := make(chan time.Time, 1)
					ch <- fixed.Add(d)
					return ch
				}
			})

			report, err := ctrl.Run(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if waited != tt.wantWait {
				t.Errorf("expected wait %v, got %v", tt.wantWait, waited)
			}
			result := report.FinalResults["wait"]
			if result[domain.FieldWaitedSeconds] != int64(tt.wantWait/time.Second) {
				t.Errorf("unexpected waitedSeconds: %v", result[domain.FieldWaitedSeconds])
			}
			if (len(report.Warnings) > 0) != tt.wantWarning {
				t.Errorf("warnings = %v, want warning: %v", report.Warnings, tt.wantWarning)
			}
		})
	}
}

func TestController_WaitResumesRemainder(t *testing.T) {
	h := newHarness()
	def := domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "wait", Type: domain.StepTypeWait, Params: domain.Params{"duration": 10, "unit": "minutes"}}},
	}
	run := h.newRun(t, def, nil)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(4 * time.Minute)
	run.Checkpoint.WaitUntil = &until

	var waited time.Duration
	ctrl := h.controller(t, run, func(cfg *ControllerConfig) {
		cfg.Now = func() time.Time { return now }
		cfg.After = func(d time.Duration) <-chan time.Time {
			waited = d
			ch := make(chan time.Time, 1)
			ch <- now
			return ch
		}
	})

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited != 4*time.Minute {
		t.Errorf("expected remaining 4m, got %v", waited)
	}
}

func TestController_CancelBeforeStart(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("echo", "echo"), nil)
	run.CancelRequested = true

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.QueryStatusCancelled {
		t.Errorf("expected cancelled, got %s", report.Status)
	}
	if len(report.ExecutionPath) != 0 {
		t.Errorf("expected no executed nodes, got %v", report.ExecutionPath)
	}
	if h.calls.get("A") != 0 {
		t.Error("no step must run after cancellation")
	}
}

func TestController_CancelBetweenNodes(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("cancel", "echo"), nil)

	var ctrl *Controller
	h.registry.Register(steps.NewFuncStep("cancel", func(context.Context, *steps.Request) (domain.StepResult, error) {
		ctrl.Cancel()
		return domain.StepResult{"status": "ok"}, nil
	}))
	ctrl = h.controller(t, run, nil)

	report, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.QueryStatusCancelled {
		t.Errorf("expected cancelled, got %s", report.Status)
	}
	// Шаг, во время которого пришла отмена, доводится до конца
	if !equalPath(report.ExecutionPath, []string{"A"}) {
		t.Errorf("expected path [A], got %v", report.ExecutionPath)
	}
}

func TestController_CancelInterruptsWait(t *testing.T) {
	h := newHarness()
	def := domain.WorkflowDefinition{
		Nodes: []domain.Node{
			{ID: "wait", Type: domain.StepTypeWait, Params: domain.Params{"duration": 1, "unit": "days"}},
			{ID: "after", Type: "echo"},
		},
		Edges: []domain.Edge{{Source: "wait", Target: "after"}},
	}
	run := h.newRun(t, def, nil)

	var ctrl *Controller
	ctrl = h.controller(t, run, func(cfg *ControllerConfig) {
		cfg.After = func(time.Duration) <-chan time.Time {
			ctrl.Cancel()
			return make(chan time.Time)
		}
	})

	report, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.QueryStatusCancelled {
		t.Errorf("expected cancelled, got %s", report.Status)
	}
	if h.calls.get("after") != 0 {
		t.Error("node after wait must not run")
	}
}

func TestController_CycleLimit(t *testing.T) {
	h := newHarness()
	def := chain("echo", "echo")
	def.Edges = append(def.Edges, domain.Edge{Source: "B", Target: "A"})
	run := h.newRun(t, def, nil)

	report, err := h.controller(t, run, func(cfg *ControllerConfig) {
		cfg.MaxSteps = 5
	}).Run(context.Background())

	if !errors.Is(err, ErrCycleLimitExceeded) {
		t.Fatalf("expected ErrCycleLimitExceeded, got %v", err)
	}
	if report.Status != domain.QueryStatusFailed {
		t.Errorf("expected failed, got %s", report.Status)
	}
	if len(report.ExecutionPath) != 5 {
		t.Errorf("expected 5 executed nodes, got %d", len(report.ExecutionPath))
	}

	// Каждое посещение — отдельный вызов с собственным DedupKey
	if h.calls.get("A") != 3 || h.calls.get("B") != 2 {
		t.Errorf("unexpected call counts: A=%d B=%d", h.calls.get("A"), h.calls.get("B"))
	}
}

func TestController_ResumeFromCheckpoint(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("echo", "echo", "echo"), nil)
	run.Checkpoint = domain.Checkpoint{
		CurrentNode:   "B",
		NodeResults:   map[string]domain.StepResult{"A": {"status": "ok"}},
		ExecutionPath: []string{"A"},
		Steps:         1,
	}

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalPath(report.ExecutionPath, []string{"A", "B", "C"}) {
		t.Errorf("expected path [A B C], got %v", report.ExecutionPath)
	}
	if h.calls.get("A") != 0 {
		t.Error("completed node must not be re-executed")
	}
}

func TestController_ResumeReusesCompletedTask(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("echo", "echo"), nil)

	// Шаг A завершился, но процесс упал до записи checkpoint
	task := domain.NewTask(run.ID, "A", "echo", 0, nil)
	task.MarkRunning()
	task.MarkSucceeded(domain.StepResult{"status": "stored"})
	if err := h.tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	report, err := h.controller(t, run, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.calls.get("A") != 0 {
		t.Errorf("expected stored result to be reused, step called %d times", h.calls.get("A"))
	}
	if status, _ := report.FinalResults["A"].Status(); status != "stored" {
		t.Errorf("expected stored result, got %v", report.FinalResults["A"])
	}
	if h.calls.get("B") != 1 {
		t.Errorf("expected B invoked once, got %d", h.calls.get("B"))
	}
}

func TestController_ResumeRedispatchesInterruptedTask(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("echo"), nil)

	task := domain.NewTask(run.ID, "A", "echo", 0, nil)
	task.MarkRunning()
	if err := h.tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	if _, err := h.controller(t, run, nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.calls.get("A") != 1 {
		t.Errorf("expected interrupted step to run once, got %d", h.calls.get("A"))
	}

	stored, _ := h.tasks.GetByDedupKey(context.Background(), task.DedupKey)
	if stored.Status != domain.TaskStatusSucceeded || stored.Attempt != 1 {
		t.Errorf("interrupted attempt must not count: %s attempt %d", stored.Status, stored.Attempt)
	}
}

func TestController_SuspendOnContextCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.registry.Register(steps.NewFuncStep("hang", func(stepCtx context.Context, _ *steps.Request) (domain.StepResult, error) {
		cancel()
		<-stepCtx.Done()
		return nil, stepCtx.Err()
	}))
	run := h.newRun(t, chain("hang", "echo"), nil)

	report, err := h.controller(t, run, nil).Run(ctx)
	if report != nil {
		t.Errorf("expected suspended run, got report %+v", report)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	stored, _ := h.runs.GetByID(context.Background(), run.ID)
	if stored.Checkpoint.CurrentNode != "A" || len(stored.Checkpoint.ExecutionPath) != 0 {
		t.Errorf("checkpoint must point at interrupted node: %+v", stored.Checkpoint)
	}
}

func TestController_BindsRunInputsIntoEntry(t *testing.T) {
	h := newHarness()

	var got atomic.Value
	h.registry.Register(steps.NewFuncStep(engine.StepTypeExtractPDF, func(_ context.Context, req *steps.Request) (domain.StepResult, error) {
		got.Store(req.Params[domain.FieldPDFBase64])
		return domain.StepResult{domain.FieldExtractedData: map[string]any{"total": 10}}, nil
	}))

	var saved atomic.Value
	h.registry.Register(steps.NewFuncStep(engine.StepTypeSaveMarkdown, func(_ context.Context, req *steps.Request) (domain.StepResult, error) {
		saved.Store(req.Params.Clone())
		return domain.StepResult{"status": "saved"}, nil
	}))

	def := chain(engine.StepTypeExtractPDF, engine.StepTypeSaveMarkdown)
	run := h.newRun(t, def, map[string]any{domain.FieldPDFBase64: "JVBERi0="})

	if _, err := h.controller(t, run, nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Load() != "JVBERi0=" {
		t.Errorf("expected pdfBase64 from run inputs, got %v", got.Load())
	}

	params := saved.Load().(domain.Params)
	if params[domain.FieldWorkflowID] != run.ID {
		t.Errorf("expected workflowId = run id, got %v", params[domain.FieldWorkflowID])
	}
	if _, ok := params[domain.FieldExtractedData].(map[string]any); !ok {
		t.Errorf("expected extractedData from previous result, got %v", params[domain.FieldExtractedData])
	}
	if def.Nodes[1].Params != nil {
		t.Error("node template must not be modified")
	}
}

func TestController_SnapshotIsCopy(t *testing.T) {
	h := newHarness()
	run := h.newRun(t, chain("echo"), nil)
	ctrl := h.controller(t, run, nil)

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := ctrl.Snapshot()
	snap.NodeResults["A"]["status"] = "mutated"
	snap.ExecutionPath[0] = "Z"

	again := ctrl.Snapshot()
	if status, _ := again.NodeResults["A"].Status(); status != "ok" {
		t.Errorf("snapshot must not alias state, got %q", status)
	}
	if again.ExecutionPath[0] != "A" {
		t.Errorf("snapshot must not alias path, got %v", again.ExecutionPath)
	}
}
