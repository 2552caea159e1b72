package repo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conduit/internal/domain"
)

// testPool подключается к PostgreSQL из CONDUIT_TEST_POSTGRES_URL
// и применяет схему. Без переменной тест пропускается.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("CONDUIT_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("CONDUIT_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "migrate must be idempotent")
	return pool
}

func newPendingRun(id string) *domain.Run {
	return &domain.Run{
		ID:         id,
		Definition: domain.WorkflowDefinition{ID: "wf", Nodes: []domain.Node{{ID: "A", Type: "echo"}}},
		TaskQueue:  "conduit-workflow-queue",
		Status:     domain.RunStatusPending,
		Inputs:     map[string]any{"n": 1},
		Checkpoint: domain.NewCheckpoint("A"),
		CreatedAt:  time.Now(),
	}
}

func TestRunRepo_LeaseLifecycle(t *testing.T) {
	pool := testPool(t)
	runs := NewRunRepo(pool)
	ctx := context.Background()

	id := fmt.Sprintf("wf-%s", uuid.NewString())
	run := newPendingRun(id)
	run.IdempotencyKey = "key-" + id
	require.NoError(t, runs.Create(ctx, run))
	assert.ErrorIs(t, runs.Create(ctx, run), ErrAlreadyExists)

	byKey, err := runs.GetByIdempotencyKey(ctx, run.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, id, byKey.ID)

	claimed, err := runs.Claim(ctx, id, "owner-1", time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, claimed.Status)
	assert.Equal(t, "owner-1", claimed.LeaseOwner)
	assert.NotNil(t, claimed.StartedAt)

	_, err = runs.Claim(ctx, id, "owner-2", time.Now(), time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotClaimed)
	assert.ErrorIs(t, runs.RenewLease(ctx, id, "owner-2", time.Now().Add(time.Minute)), ErrNotClaimed)
	assert.NoError(t, runs.RenewLease(ctx, id, "owner-1", time.Now().Add(-time.Second)))

	expired, err := runs.ListExpired(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Contains(t, runIDs(expired), id)

	stolen, err := runs.Claim(ctx, id, "owner-2", time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "owner-2", stolen.LeaseOwner)

	_, err = runs.Claim(ctx, "missing-run", "owner-1", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunRepo_CheckpointAndCancel(t *testing.T) {
	pool := testPool(t)
	runs := NewRunRepo(pool)
	ctx := context.Background()

	id := fmt.Sprintf("wf-%s", uuid.NewString())
	require.NoError(t, runs.Create(ctx, newPendingRun(id)))

	cp := domain.NewCheckpoint("B")
	cp.ExecutionPath = []string{"A"}
	cp.NodeResults["A"] = domain.StepResult{"ok": true}
	cp.Steps = 1
	require.NoError(t, runs.SaveCheckpoint(ctx, id, cp))

	require.NoError(t, runs.RequestCancel(ctx, id))

	// Update из контроллера не сбрасывает флаг отмены
	run, err := runs.GetByID(ctx, id)
	require.NoError(t, err)
	run.CancelRequested = false
	require.NoError(t, runs.Update(ctx, run))

	run, err = runs.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, run.CancelRequested)
	assert.Equal(t, "B", run.Checkpoint.CurrentNode)
	assert.Equal(t, []string{"A"}, run.Checkpoint.ExecutionPath)
	assert.Equal(t, true, run.Checkpoint.NodeResults["A"]["ok"])

	run.MarkCancelled(&domain.Report{Status: "cancelled"})
	require.NoError(t, runs.Update(ctx, run))
	assert.ErrorIs(t, runs.RequestCancel(ctx, id), ErrInvalidState)
	assert.ErrorIs(t, runs.RequestCancel(ctx, "missing-run"), ErrNotFound)

	finished, err := runs.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, finished.Report)
	assert.Equal(t, "cancelled", finished.Report.Status)
	assert.Empty(t, finished.LeaseOwner)
}

func TestTaskRepo_DedupKey(t *testing.T) {
	pool := testPool(t)
	runs := NewRunRepo(pool)
	tasks := NewTaskRepo(pool)
	ctx := context.Background()

	runID := fmt.Sprintf("wf-%s", uuid.NewString())
	require.NoError(t, runs.Create(ctx, newPendingRun(runID)))

	task := domain.NewTask(runID, "A", "echo", 0, domain.Params{"msg": "hi"})
	require.NoError(t, tasks.Create(ctx, task))
	assert.ErrorIs(t, tasks.Create(ctx, domain.NewTask(runID, "A", "echo", 0, nil)), ErrAlreadyExists)

	task.MarkRunning()
	task.MarkSucceeded(domain.StepResult{"echo": "hi"})
	require.NoError(t, tasks.Update(ctx, task))

	got, err := tasks.GetByDedupKey(ctx, domain.DedupKey(runID, "A", 0))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, "hi", got.Outputs["echo"])

	list, err := tasks.ListByRunID(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWorkflowRepo_Versions(t *testing.T) {
	pool := testPool(t)
	workflows := NewWorkflowRepo(pool)
	ctx := context.Background()

	wf := &domain.Workflow{ID: uuid.New(), Name: "wf-" + uuid.NewString(), IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, workflows.Create(ctx, wf))
	t.Cleanup(func() { _ = workflows.Delete(context.Background(), wf.ID) })

	for i := 0; i < 2; i++ {
		v := &domain.WorkflowVersion{WorkflowID: wf.ID, Definition: domain.WorkflowDefinition{ID: "wf"}}
		require.NoError(t, workflows.CreateVersion(ctx, v))
		assert.Equal(t, i+1, v.Version)
	}

	latest, err := workflows.GetLatestVersion(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	missing := &domain.WorkflowVersion{WorkflowID: uuid.New()}
	assert.ErrorIs(t, workflows.CreateVersion(ctx, missing), ErrNotFound)
}

func TestScheduleRepo_ListDue(t *testing.T) {
	pool := testPool(t)
	workflows := NewWorkflowRepo(pool)
	schedules := NewScheduleRepo(pool)
	ctx := context.Background()

	wf := &domain.Workflow{ID: uuid.New(), Name: "wf-" + uuid.NewString(), IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, workflows.Create(ctx, wf))
	t.Cleanup(func() { _ = workflows.Delete(context.Background(), wf.ID) })

	past := time.Now().Add(-time.Minute)
	s := &domain.Schedule{
		ID:          uuid.New(),
		WorkflowID:  wf.ID,
		IntervalSec: 60,
		Timezone:    "UTC",
		Enabled:     true,
		NextDueAt:   &past,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, schedules.Create(ctx, s))

	due, err := schedules.ListDue(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Contains(t, scheduleIDs(due), s.ID)

	s.Enabled = false
	require.NoError(t, schedules.Update(ctx, s))
	due, err = schedules.ListDue(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.NotContains(t, scheduleIDs(due), s.ID)
}

func runIDs(runs []domain.Run) []string {
	ids := make([]string, len(runs))
	for i := range runs {
		ids[i] = runs[i].ID
	}
	return ids
}

func scheduleIDs(list []domain.Schedule) []uuid.UUID {
	ids := make([]uuid.UUID, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	return ids
}
