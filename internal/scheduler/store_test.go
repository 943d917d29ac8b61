package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressridge/blogidx/internal/config"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

func openTestStore(t *testing.T) *JobStore {
	t.Helper()
	store, err := OpenJobStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestJobStorePutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	job := &Job{
		ID:           "nightly",
		Trigger:      Trigger{Type: TriggerCron, Expression: "0 3 * * *"},
		Config:       config.NewConfig(),
		NextFireTime: baseTime.Add(time.Hour),
		CreatedAt:    baseTime,
	}
	require.NoError(t, store.Put(job))

	got, err := store.Get("nightly")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Trigger, got.Trigger)
	assert.True(t, job.NextFireTime.Equal(got.NextFireTime))
	assert.Equal(t, job.Config.BatchSize, got.Config.BatchSize)
}

func TestJobStoreGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("nope")
	assert.Equal(t, idxerrors.ErrCodeJobNotFound, idxerrors.GetCode(err))
}

func TestJobStoreDelete(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put(&Job{ID: "j", Config: config.NewConfig()}))

	require.NoError(t, store.Delete("j"))
	_, err := store.Get("j")
	assert.Error(t, err)

	assert.Error(t, store.Delete("j"))
}

func TestJobStoreList(t *testing.T) {
	store := openTestStore(t)
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, store.Put(&Job{ID: id, Config: config.NewConfig()}))
	}

	jobs, err := store.List()
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	// bbolt iterates keys in byte order.
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, "c", jobs[2].ID)
}

func TestJobStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	store, err := OpenJobStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(&Job{ID: "keep", Config: config.NewConfig()}))
	require.NoError(t, store.Close())

	reopened, err := OpenJobStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	jobs, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "keep", jobs[0].ID)
}
