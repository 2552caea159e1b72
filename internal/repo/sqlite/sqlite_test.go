package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conduit/internal/domain"
	"github.com/shaiso/Conduit/internal/repo"
	"github.com/shaiso/Conduit/internal/repo/repotest"
)

func newStores(t *testing.T, path string) (*RunStore, *TaskStore) {
	t.Helper()

	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	runs, err := NewRunStore(ctx, db)
	require.NoError(t, err)
	tasks, err := NewTaskStore(ctx, db)
	require.NoError(t, err)
	return runs, tasks
}

func TestStores(t *testing.T) {
	repotest.Run(t, func(t *testing.T) (repo.RunStore, repo.TaskStore) {
		return newStores(t, ":memory:")
	})
}

func TestRunStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conduit.db")
	ctx := context.Background()

	runs, _ := newStores(t, path)
	require.NoError(t, runs.Create(ctx, repotest.NewRun("wf-1", time.Now())))
	_, err := runs.Claim(ctx, "wf-1", "owner-1", time.Now(), time.Now().Add(-time.Second))
	require.NoError(t, err)

	cp := domain.NewCheckpoint("B")
	cp.ExecutionPath = []string{"A"}
	require.NoError(t, runs.SaveCheckpoint(ctx, "wf-1", cp))

	reopened, _ := newStores(t, path)
	expired, err := reopened.ListExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "B", expired[0].Checkpoint.CurrentNode)
	assert.Equal(t, "owner-1", expired[0].LeaseOwner)
	assert.NotNil(t, expired[0].StartedAt)
}
