package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/mq"
	"github.com/shaiso/Conduit/internal/repo/memory"
	"github.com/shaiso/Conduit/internal/steps"
)

// fakeNotifier запоминает опубликованные события.
type fakeNotifier struct {
	mu       sync.Mutex
	pending  []string
	finished []mq.RunFinishedPayload
}

func (n *fakeNotifier) PublishRunPending(_ context.Context, runID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, runID)
	return nil
}

func (n *fakeNotifier) PublishRunFinished(_ context.Context, payload mq.RunFinishedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, payload)
	return nil
}

func (n *fakeNotifier) finishedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.finished)
}

func newTestEngine(t *testing.T, modify func(*Config)) (*Engine, *testHarness, *fakeNotifier) {
	t.Helper()

	h := newHarness()
	notifier := &fakeNotifier{}

	cfg := Config{
		Runs:         h.runs,
		Tasks:        h.tasks,
		Registry:     h.registry,
		Notifier:     notifier,
		Defaults:     steps.Policy{Retry: domain.RetryPolicy{InitialDelayMs: 1, MaxDelayMs: 1}},
		PollInterval: 20 * time.Millisecond,
		Owner:        "test-owner",
		Logger:       discardLogger(),
	}
	if modify != nil {
		modify(&cfg)
	}

	return New(cfg), h, notifier
}

func waitForStatus(t *testing.T, e *Engine, runID, want string) RunView {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := e.Status(context.Background(), runID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if view.Status == want && e.ActiveRunsCount() == 0 {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach status %s", runID, want)
	return RunView{}
}

func TestEngine_SubmitValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	tests := []struct {
		name string
		def  domain.WorkflowDefinition
	}{
		{"empty", domain.WorkflowDefinition{}},
		{"unknown step type", chain("no_such_step")},
		{"duplicate node ids", domain.WorkflowDefinition{Nodes: []domain.Node{{ID: "a"}, {ID: "a"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Submit(context.Background(), Submission{Definition: tt.def})
			if !errors.Is(err, ErrInvalidSubmission) {
				t.Errorf("expected ErrInvalidSubmission, got %v", err)
			}
		})
	}
}

func TestEngine_SubmitRequireTrigger(t *testing.T) {
	e, _, _ := newTestEngine(t, func(cfg *Config) { cfg.RequireTrigger = true })

	if _, err := e.Submit(context.Background(), Submission{Definition: chain("echo")}); !errors.Is(err, ErrInvalidSubmission) {
		t.Errorf("expected ErrInvalidSubmission without trigger, got %v", err)
	}
	if _, err := e.Submit(context.Background(), Submission{Definition: chain(domain.StepTypeTrigger, "echo")}); err != nil {
		t.Errorf("unexpected error with trigger: %v", err)
	}
}

func TestEngine_SubmitCreatesPendingRun(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	e, h, notifier := newTestEngine(t, func(cfg *Config) {
		cfg.Now = func() time.Time { return fixed }
	})

	run, err := e.Submit(context.Background(), Submission{
		Definition: chain("echo", "echo"),
		Inputs:     map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.ID != "wf-20260304050607" {
		t.Errorf("unexpected run id: %s", run.ID)
	}
	if run.Status != domain.RunStatusPending {
		t.Errorf("expected PENDING, got %s", run.Status)
	}
	if run.TaskQueue != DefaultTaskQueue {
		t.Errorf("expected default task queue, got %s", run.TaskQueue)
	}
	if run.Checkpoint.CurrentNode != "A" {
		t.Errorf("expected checkpoint at entry, got %q", run.Checkpoint.CurrentNode)
	}

	if _, err := h.runs.GetByID(context.Background(), run.ID); err != nil {
		t.Errorf("run not stored: %v", err)
	}

	// Engine не запущен: run ждёт оркестратор
	if len(notifier.pending) != 1 || notifier.pending[0] != run.ID {
		t.Errorf("expected run.pending for %s, got %v", run.ID, notifier.pending)
	}
}

func TestEngine_SubmitTaskQueue(t *testing.T) {
	e, _, _ := newTestEngine(t, func(cfg *Config) { cfg.DefaultTaskQueue = "default-q" })

	withConfig := chain("echo")
	withConfig.ID = "cfg"
	withConfig.Config = map[string]any{"task_queue": "from-definition"}

	tests := []struct {
		name      string
		sub       Submission
		wantQueue string
	}{
		{"default", Submission{Definition: chain("echo"), RunID: "r1"}, "default-q"},
		{"definition config", Submission{Definition: withConfig, RunID: "r2"}, "from-definition"},
		{"explicit wins", Submission{Definition: withConfig, TaskQueue: "explicit", RunID: "r3"}, "explicit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := e.Submit(context.Background(), tt.sub)
			if err != nil {
				t.Fatal(err)
			}
			if run.TaskQueue != tt.wantQueue {
				t.Errorf("expected %s, got %s", tt.wantQueue, run.TaskQueue)
			}
		})
	}
}

func TestEngine_SubmitIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	first, err := e.Submit(context.Background(), Submission{Definition: chain("echo"), IdempotencyKey: "sched_1", RunID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Submit(context.Background(), Submission{Definition: chain("echo"), IdempotencyKey: "sched_1", RunID: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same run, got %s and %s", first.ID, second.ID)
	}

}

func TestEngine_SubmitExplicitRunIDConflict(t *testing.T) {
	e, h, _ := newTestEngine(t, nil)

	if _, err := e.Submit(context.Background(), Submission{Definition: chain("echo"), RunID: "a", Inputs: map[string]any{"n": "first"}}); err != nil {
		t.Fatal(err)
	}

	_, err := e.Submit(context.Background(), Submission{Definition: chain("echo"), RunID: "a", Inputs: map[string]any{"n": "second"}})
	if !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}

	stored, err := h.runs.GetByID(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Inputs["n"] != "first" {
		t.Errorf("first run inputs must stay untouched, got %v", stored.Inputs)
	}
}

func TestEngine_SubmitSameSecondKeepsDistinctRuns(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e, h, _ := newTestEngine(t, func(cfg *Config) {
		cfg.Now = func() time.Time { return fixed }
	})

	names := []string{"alice", "bob", "carol"}
	ids := make(map[string]string, len(names))
	for _, name := range names {
		run, err := e.Submit(context.Background(), Submission{Definition: chain("echo"), Inputs: map[string]any{"name": name}})
		if err != nil {
			t.Fatalf("submit %s: %v", name, err)
		}
		ids[name] = run.ID
	}

	if ids["alice"] != "wf-20260101120000" {
		t.Errorf("first run should keep the plain id, got %s", ids["alice"])
	}
	seen := make(map[string]bool)
	for _, name := range names {
		id := ids[name]
		if seen[id] {
			t.Fatalf("run id %s reused", id)
		}
		seen[id] = true
		if !strings.HasPrefix(id, "wf-20260101120000") {
			t.Errorf("unexpected id %s", id)
		}

		stored, err := h.runs.GetByID(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Inputs["name"] != name {
			t.Errorf("run %s: expected inputs of %s, got %v", id, name, stored.Inputs)
		}
	}
}

func TestEngine_ExecuteRun(t *testing.T) {
	e, h, notifier := newTestEngine(t, nil)

	run, err := e.Submit(context.Background(), Submission{Definition: chain("echo", "echo", "echo"), RunID: "exec"})
	if err != nil {
		t.Fatal(err)
	}

	report, err := e.ExecuteRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.QueryStatusCompleted {
		t.Errorf("expected completed, got %s", report.Status)
	}

	view, err := e.Status(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != domain.QueryStatusCompleted || view.Report == nil {
		t.Fatalf("unexpected view: %+v", view)
	}
	if !equalPath(view.Report.ExecutionPath, []string{"A", "B", "C"}) {
		t.Errorf("unexpected path: %v", view.Report.ExecutionPath)
	}

	stored, _ := h.runs.GetByID(context.Background(), run.ID)
	if stored.LeaseOwner != "" || stored.FinishedAt == nil {
		t.Errorf("finished run must release lease: owner=%q finished=%v", stored.LeaseOwner, stored.FinishedAt)
	}

	if notifier.finishedCount() != 1 || notifier.finished[0].Status != domain.QueryStatusCompleted {
		t.Errorf("expected run.finished completed, got %+v", notifier.finished)
	}

	// Завершённый run повторно не захватывается
	if _, err := e.ExecuteRun(context.Background(), run.ID); err == nil {
		t.Error("expected error for finished run")
	}
}

func TestEngine_ExecuteRunFailure(t *testing.T) {
	e, _, notifier := newTestEngine(t, nil)

	run, err := e.Submit(context.Background(), Submission{Definition: chain("echo", "fail"), RunID: "bad"})
	if err != nil {
		t.Fatal(err)
	}

	report, err := e.ExecuteRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("failure is reported, not returned: %v", err)
	}
	if report.Status != domain.QueryStatusFailed || report.FailedNode != "B" {
		t.Errorf("unexpected report: %+v", report)
	}

	view, _ := e.Status(context.Background(), run.ID)
	if view.Status != domain.QueryStatusFailed {
		t.Errorf("expected failed, got %s", view.Status)
	}
	if view.Run.Error != "boom" {
		t.Errorf("expected run error boom, got %q", view.Run.Error)
	}
	if notifier.finished[0].FailedNode != "B" {
		t.Errorf("expected failed node in event, got %+v", notifier.finished[0])
	}
}

func TestEngine_StatusNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	view, err := e.Status(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != domain.QueryStatusNotFound {
		t.Errorf("expected not-found, got %s", view.Status)
	}
}

func TestEngine_CancelPendingRun(t *testing.T) {
	e, h, _ := newTestEngine(t, nil)

	run, err := e.Submit(context.Background(), Submission{Definition: chain("echo"), RunID: "c"})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view, _ := e.Status(context.Background(), run.ID)
	if view.Status != domain.QueryStatusCancelled {
		t.Errorf("expected cancelled, got %s", view.Status)
	}
	if h.calls.get("A") != 0 {
		t.Error("cancelled run must not execute steps")
	}

	if err := e.Cancel(context.Background(), run.ID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("expected ErrRunFinished, got %v", err)
	}
	if err := e.Cancel(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEngine_QueryFromCheckpoint(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	run, err := e.Submit(context.Background(), Submission{Definition: chain("echo", "echo"), RunID: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ExecuteRun(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	snap, err := e.Query(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !equalPath(snap.ExecutionPath, []string{"A", "B"}) {
		t.Errorf("unexpected path: %v", snap.ExecutionPath)
	}
	if len(snap.NodeResults) != 2 {
		t.Errorf("expected 2 results, got %d", len(snap.NodeResults))
	}

	if _, err := e.Query(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEngine_EmptyDefinitionFailsRun(t *testing.T) {
	e, h, _ := newTestEngine(t, nil)

	// Run без узлов может попасть в хранилище в обход Submit
	run := &domain.Run{ID: "empty", Status: domain.RunStatusPending, CreatedAt: time.Now()}
	if err := h.runs.Create(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	_, err := e.ExecuteRun(context.Background(), run.ID)
	if !errors.Is(err, ErrEmptyWorkflow) {
		t.Errorf("expected ErrEmptyWorkflow, got %v", err)
	}

	view, _ := e.Status(context.Background(), run.ID)
	if view.Status != domain.QueryStatusFailed {
		t.Errorf("expected failed, got %s", view.Status)
	}
}

func TestEngine_StartExecutesSubmittedRuns(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	run, err := e.Submit(context.Background(), Submission{Definition: chain("echo", "echo"), RunID: "live"})
	if err != nil {
		t.Fatal(err)
	}

	view := waitForStatus(t, e, run.ID, domain.QueryStatusCompleted)
	if !equalPath(view.Report.ExecutionPath, []string{"A", "B"}) {
		t.Errorf("unexpected path: %v", view.Report.ExecutionPath)
	}
}

func TestEngine_ResumesAbandonedRun(t *testing.T) {
	e, h, _ := newTestEngine(t, nil)

	// Run, брошенный упавшим процессом после узла A
	expired := time.Now().Add(-time.Minute)
	run := &domain.Run{
		ID:         "abandoned",
		Definition: chain("echo", "echo", "echo"),
		Status:     domain.RunStatusRunning,
		TaskQueue:  DefaultTaskQueue,
		Checkpoint: domain.Checkpoint{
			CurrentNode:   "B",
			NodeResults:   map[string]domain.StepResult{"A": {"status": "ok"}},
			ExecutionPath: []string{"A"},
			Steps:         1,
		},
		LeaseOwner: "dead-process",
		LeaseUntil: &expired,
		CreatedAt:  time.Now(),
	}
	if err := h.runs.Create(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	view := waitForStatus(t, e, run.ID, domain.QueryStatusCompleted)
	if !equalPath(view.Report.ExecutionPath, []string{"A", "B", "C"}) {
		t.Errorf("unexpected path: %v", view.Report.ExecutionPath)
	}
	if h.calls.get("A") != 0 {
		t.Error("node A was completed before the crash and must not re-run")
	}
}

func TestEngine_SubmitAfterStop(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Stop()

	if _, err := e.Submit(context.Background(), Submission{Definition: chain("echo")}); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("expected ErrEngineStopped, got %v", err)
	}
}

func TestDefaultOwner(t *testing.T) {
	owner := defaultOwner()
	if owner == "" || !strings.Contains(owner, "-") {
		t.Errorf("unexpected owner: %q", owner)
	}
}

func TestRemoteExecutor_CompletedEvent(t *testing.T) {
	tasks := memory.NewTaskStore()
	dispatched := make(chan mq.TaskReadyPayload, 1)

	exec := NewRemoteExecutor(RemoteConfig{
		Dispatcher:   dispatcherFunc(func(p mq.TaskReadyPayload) { dispatched <- p }),
		Tasks:        tasks,
		PollInterval: time.Hour,
		Logger:       discardLogger(),
	})

	task := domain.NewTask("r", "n", "remote_step", 0, nil)
	task.TaskQueue = "q"
	task.MarkRunning()

	go func() {
		p := <-dispatched
		msg := mq.NewMessage(mq.MessageTypeTaskCompleted, mq.TaskCompletedPayload{
			TaskID:   p.TaskID,
			RunID:    p.RunID,
			NodeID:   p.NodeID,
			DedupKey: p.DedupKey,
			Status:   string(domain.TaskStatusSucceeded),
			Attempt:  p.Attempt,
			Outputs:  map[string]any{"answer": "42"},
		})
		_ = exec.HandleTaskCompleted(context.Background(), &mq.Delivery{Message: *msg})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := exec.Execute(ctx, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["answer"] != "42" {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestRemoteExecutor_PollsStore(t *testing.T) {
	tasks := memory.NewTaskStore()

	task := domain.NewTask("r", "n", "remote_step", 0, nil)
	task.MarkRunning()
	if err := tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	exec := NewRemoteExecutor(RemoteConfig{
		Dispatcher: dispatcherFunc(func(mq.TaskReadyPayload) {
			// Worker записал провал, но task.completed потерялся
			stored, _ := tasks.GetByDedupKey(context.Background(), task.DedupKey)
			stored.MarkFailed("remote boom")
			_ = tasks.Update(context.Background(), stored)
		}),
		Tasks:        tasks,
		PollInterval: 10 * time.Millisecond,
		Logger:       discardLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := exec.Execute(ctx, task)
	if !errors.Is(err, ErrTaskFailed) || !strings.Contains(err.Error(), "remote boom") {
		t.Errorf("expected ErrTaskFailed with message, got %v", err)
	}
}

func TestRemoteExecutor_Timeout(t *testing.T) {
	exec := NewRemoteExecutor(RemoteConfig{
		Dispatcher:   dispatcherFunc(func(mq.TaskReadyPayload) {}),
		Tasks:        memory.NewTaskStore(),
		PollInterval: time.Hour,
		Logger:       discardLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	task := domain.NewTask("r", "n", "remote_step", 0, nil)
	task.MarkRunning()

	if _, err := exec.Execute(ctx, task); !errors.Is(err, steps.ErrStepTimeout) {
		t.Errorf("expected ErrStepTimeout, got %v", err)
	}
}

// dispatcherFunc адаптирует функцию к TaskDispatcher.
type dispatcherFunc func(mq.TaskReadyPayload)

func (f dispatcherFunc) PublishTaskReady(_ context.Context, p mq.TaskReadyPayload) error {
	f(p)
	return nil
}
