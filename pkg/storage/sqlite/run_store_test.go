package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpdispatch/pkg/models"
	"cpdispatch/pkg/storage"
	"cpdispatch/pkg/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run := &models.Run{ID: uuid.New(), Name: "illum", Status: models.RunPending, JobCount: 2}
	require.NoError(t, store.CreateRun(ctx, run, []string{"job2", "job1"}))

	require.NoError(t, store.SetRunStatus(ctx, run.ID, models.RunRunning))
	require.NoError(t, store.UpdateJobState(ctx, run.ID, "job1", models.JobRunning))

	start := time.Now().Add(-time.Second)
	require.NoError(t, store.RecordOutcome(ctx, run.ID, models.Outcome{
		JobName: "job1", ExitCode: 1, Pid: 4242, StartedAt: start, FinishedAt: time.Now(),
	}, "/logs/job1_illum_run.log"))
	require.NoError(t, store.CompleteRun(ctx, run.ID, models.RunCompleted, 1, ""))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "illum", got.Name)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 2, got.JobCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	jobs, err := store.ListRunJobs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "job1", jobs[0].JobName)
	assert.Equal(t, models.JobLogged, jobs[0].State)
	require.NotNil(t, jobs[0].ExitCode)
	assert.Equal(t, 1, *jobs[0].ExitCode)
	assert.Equal(t, 4242, jobs[0].Pid)
	assert.Equal(t, "/logs/job1_illum_run.log", jobs[0].LogURI)
	assert.Equal(t, start.UnixMilli(), jobs[0].StartedAt.UnixMilli())

	assert.Equal(t, "job2", jobs[1].JobName)
	assert.Equal(t, models.JobSubmitted, jobs[1].State)
	assert.Nil(t, jobs[1].ExitCode)
}

func TestStore_DuplicateRunConflicts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run := &models.Run{ID: uuid.New(), Name: "illum"}
	require.NoError(t, store.CreateRun(ctx, run, nil))
	assert.ErrorIs(t, store.CreateRun(ctx, &models.Run{ID: run.ID, Name: "again"}, nil), storage.ErrConflict)
}

func TestStore_NotFound(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.SetRunStatus(ctx, uuid.New(), models.RunRunning), storage.ErrNotFound)
	assert.ErrorIs(t, store.UpdateJobState(ctx, uuid.New(), "job1", models.JobRunning), storage.ErrNotFound)
}

func TestStore_ConcurrentStateUpdates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	run := &models.Run{ID: uuid.New(), Name: "many"}
	require.NoError(t, store.CreateRun(ctx, run, names))

	var wg sync.WaitGroup
	for _, n := range names {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateJobState(ctx, run.ID, n, models.JobRunning))
			assert.NoError(t, store.UpdateJobState(ctx, run.ID, n, models.JobTerminated))
		}()
	}
	wg.Wait()

	jobs, err := store.ListRunJobs(ctx, run.ID)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, models.JobTerminated, j.State, j.JobName)
	}
}
