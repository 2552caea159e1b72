// Package repotest — общий набор проверок для реализаций repo.RunStore
// и repo.TaskStore. Каждое хранилище (memory, sqlite, redis) прогоняет
// одни и те же сценарии аренды, checkpoint'ов и отмены.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
)

// Factory создаёт пустые хранилища для одного подтеста.
type Factory func(t *testing.T) (repo.RunStore, repo.TaskStore)

// NewRun возвращает PENDING run с одним узлом.
func NewRun(id string, created time.Time) *domain.Run {
	return &domain.Run{
		ID:         id,
		Definition: domain.WorkflowDefinition{ID: "wf", Nodes: []domain.Node{{ID: "A", Type: "echo"}}},
		TaskQueue:  "conduit-workflow-queue",
		Status:     domain.RunStatusPending,
		Inputs:     map[string]any{"count": 2},
		Checkpoint: domain.NewCheckpoint("A"),
		CreatedAt:  created,
	}
}

// Run прогоняет все сценарии.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("Idempotency", func(t *testing.T) { testIdempotency(t, factory) })
	t.Run("ClaimAndRenew", func(t *testing.T) { testClaimAndRenew(t, factory) })
	t.Run("ExpiredLease", func(t *testing.T) { testExpiredLease(t, factory) })
	t.Run("ClaimUsesGivenClock", func(t *testing.T) { testClaimUsesGivenClock(t, factory) })
	t.Run("CheckpointAndUpdate", func(t *testing.T) { testCheckpointAndUpdate(t, factory) })
	t.Run("RequestCancel", func(t *testing.T) { testRequestCancel(t, factory) })
	t.Run("ListOrdering", func(t *testing.T) { testListOrdering(t, factory) })
	t.Run("Tasks", func(t *testing.T) { testTasks(t, factory) })
}

func testCreateAndGet(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()

	require.NoError(t, runs.Create(ctx, NewRun("wf-1", time.Now())))
	assert.ErrorIs(t, runs.Create(ctx, NewRun("wf-1", time.Now())), repo.ErrAlreadyExists)

	got, err := runs.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Equal(t, "A", got.Checkpoint.CurrentNode)
	assert.Equal(t, "echo", got.Definition.Nodes[0].Type)
	// Числа после хранилища читаются как float64
	assert.Equal(t, float64(2), got.Inputs["count"])

	_, err = runs.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func testIdempotency(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()

	first := NewRun("wf-1", time.Now())
	first.IdempotencyKey = "sched_100"
	require.NoError(t, runs.Create(ctx, first))

	second := NewRun("wf-2", time.Now())
	second.IdempotencyKey = "sched_100"
	assert.ErrorIs(t, runs.Create(ctx, second), repo.ErrAlreadyExists)

	got, err := runs.GetByIdempotencyKey(ctx, "sched_100")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)

	_, err = runs.GetByIdempotencyKey(ctx, "other")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func testClaimAndRenew(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()
	require.NoError(t, runs.Create(ctx, NewRun("wf-1", time.Now())))

	until := time.Now().Add(time.Minute)
	claimed, err := runs.Claim(ctx, "wf-1", "owner-1", time.Now(), until)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, claimed.Status)
	assert.Equal(t, "owner-1", claimed.LeaseOwner)
	require.NotNil(t, claimed.LeaseUntil)
	assert.WithinDuration(t, until, *claimed.LeaseUntil, time.Millisecond)
	assert.NotNil(t, claimed.StartedAt)

	// Повторный захват тем же владельцем разрешён
	_, err = runs.Claim(ctx, "wf-1", "owner-1", time.Now(), until)
	require.NoError(t, err)

	_, err = runs.Claim(ctx, "wf-1", "owner-2", time.Now(), until)
	assert.ErrorIs(t, err, repo.ErrNotClaimed)

	assert.NoError(t, runs.RenewLease(ctx, "wf-1", "owner-1", until.Add(time.Minute)))
	assert.ErrorIs(t, runs.RenewLease(ctx, "wf-1", "owner-2", until), repo.ErrNotClaimed)

	_, err = runs.Claim(ctx, "missing", "owner-1", time.Now(), until)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	pending, err := runs.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// Истечение аренды при захвате определяется переданным now,
// а не часами хранилища.
func testClaimUsesGivenClock(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()
	base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, runs.Create(ctx, NewRun("wf-1", base)))

	_, err := runs.Claim(ctx, "wf-1", "owner-1", base, base.Add(time.Minute))
	require.NoError(t, err)

	_, err = runs.Claim(ctx, "wf-1", "owner-2", base.Add(30*time.Second), base.Add(2*time.Minute))
	assert.ErrorIs(t, err, repo.ErrNotClaimed)

	claimed, err := runs.Claim(ctx, "wf-1", "owner-2", base.Add(2*time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "owner-2", claimed.LeaseOwner)
}

func testExpiredLease(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()
	require.NoError(t, runs.Create(ctx, NewRun("wf-1", time.Now())))
	require.NoError(t, runs.Create(ctx, NewRun("wf-2", time.Now())))

	_, err := runs.Claim(ctx, "wf-1", "dead-owner", time.Now(), time.Now().Add(-time.Second))
	require.NoError(t, err)
	_, err = runs.Claim(ctx, "wf-2", "live-owner", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	expired, err := runs.ListExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "wf-1", expired[0].ID)

	resumed, err := runs.Claim(ctx, "wf-1", "new-owner", time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "new-owner", resumed.LeaseOwner)

	expired, err = runs.ListExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func testCheckpointAndUpdate(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()
	require.NoError(t, runs.Create(ctx, NewRun("wf-1", time.Now())))
	_, err := runs.Claim(ctx, "wf-1", "owner-1", time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)

	cp := domain.NewCheckpoint("B")
	cp.ExecutionPath = []string{"A"}
	cp.NodeResults["A"] = domain.StepResult{"status": "ok"}
	cp.Steps = 1
	require.NoError(t, runs.SaveCheckpoint(ctx, "wf-1", cp))
	assert.ErrorIs(t, runs.SaveCheckpoint(ctx, "missing", cp), repo.ErrNotFound)

	run, err := runs.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "B", run.Checkpoint.CurrentNode)
	assert.Equal(t, []string{"A"}, run.Checkpoint.ExecutionPath)
	assert.Equal(t, "ok", run.Checkpoint.NodeResults["A"]["status"])

	run.Checkpoint.CurrentNode = ""
	run.Checkpoint.ExecutionPath = []string{"A", "B"}
	run.MarkCompleted(&domain.Report{Status: "completed", ExecutionPath: []string{"A", "B"}})
	require.NoError(t, runs.Update(ctx, run))

	done, err := runs.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
	require.NotNil(t, done.Report)
	assert.Equal(t, []string{"A", "B"}, done.Report.ExecutionPath)
	assert.Empty(t, done.LeaseOwner)
	assert.NotNil(t, done.FinishedAt)

	_, err = runs.Claim(ctx, "wf-1", "owner-1", time.Now(), time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, repo.ErrNotClaimed)

	missing := NewRun("missing", time.Now())
	assert.ErrorIs(t, runs.Update(ctx, missing), repo.ErrNotFound)
}

func testRequestCancel(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()
	require.NoError(t, runs.Create(ctx, NewRun("wf-1", time.Now())))

	require.NoError(t, runs.RequestCancel(ctx, "wf-1"))

	// Update с устаревшей копией не сбрасывает флаг
	stale := NewRun("wf-1", time.Now())
	require.NoError(t, runs.Update(ctx, stale))

	run, err := runs.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, run.CancelRequested)

	run.MarkCancelled(&domain.Report{Status: "cancelled"})
	require.NoError(t, runs.Update(ctx, run))

	assert.ErrorIs(t, runs.RequestCancel(ctx, "wf-1"), repo.ErrInvalidState)
	assert.ErrorIs(t, runs.RequestCancel(ctx, "missing"), repo.ErrNotFound)
}

func testListOrdering(t *testing.T, factory Factory) {
	runs, _ := factory(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"wf-a", "wf-b", "wf-c"} {
		require.NoError(t, runs.Create(ctx, NewRun(id, base.Add(time.Duration(i)*time.Minute))))
	}
	_, err := runs.Claim(ctx, "wf-b", "owner", time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)

	pending, err := runs.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-a", "wf-c"}, ids(pending))

	limited, err := runs.ListPending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-a"}, ids(limited))

	all, err := runs.List(ctx, repo.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-c", "wf-b", "wf-a"}, ids(all))

	running, err := runs.List(ctx, repo.RunFilter{Status: domain.RunStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-b"}, ids(running))

	paged, err := runs.List(ctx, repo.RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-b"}, ids(paged))
}

func testTasks(t *testing.T, factory Factory) {
	runs, tasks := factory(t)
	ctx := context.Background()
	require.NoError(t, runs.Create(ctx, NewRun("wf-1", time.Now())))

	second := domain.NewTask("wf-1", "B", "echo", 1, domain.Params{"msg": "b"})
	first := domain.NewTask("wf-1", "A", "echo", 0, domain.Params{"msg": "a"})
	require.NoError(t, tasks.Create(ctx, second))
	require.NoError(t, tasks.Create(ctx, first))
	assert.ErrorIs(t, tasks.Create(ctx, domain.NewTask("wf-1", "A", "echo", 0, nil)), repo.ErrAlreadyExists)

	first.MarkRunning()
	first.MarkSucceeded(domain.StepResult{"echo": "a"})
	require.NoError(t, tasks.Update(ctx, first))

	got, err := tasks.GetByDedupKey(ctx, "wf-1/A/0")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, "a", got.Outputs["echo"])

	byID, err := tasks.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1/B/1", byID.DedupKey)

	list, err := tasks.ListByRunID(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].NodeID)
	assert.Equal(t, "B", list[1].NodeID)

	_, err = tasks.GetByDedupKey(ctx, "wf-1/C/2")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	missing := domain.NewTask("wf-1", "Z", "echo", 9, nil)
	assert.ErrorIs(t, tasks.Update(ctx, missing), repo.ErrNotFound)
}

func ids(runs []domain.Run) []string {
	out := make([]string, len(runs))
	for i := range runs {
		out[i] = runs[i].ID
	}
	return out
}
