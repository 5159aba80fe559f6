package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

func newQueuedJob(id string, created time.Time) lookup.Job {
	return lookup.Job{ID: id, Key: "12345678901", State: lookup.StateQueued, CreatedAt: created}
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(time.Hour)
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Create(ctx, newQueuedJob("job-1", now)))
	require.ErrorIs(t, store.Create(ctx, newQueuedJob("job-1", now)), lookup.ErrJobExists)

	job, err := store.Update(ctx, "job-1", lookup.Processing(now.Add(time.Second)))
	require.NoError(t, err)
	require.Equal(t, lookup.StateProcessing, job.State)
	require.NotNil(t, job.StartedAt)
	require.Nil(t, job.Result)
	require.Nil(t, job.Error)

	res := lookup.Result{Key: "12345678901", Found: true, Records: []lookup.Record{{"name": "x"}}}
	job, err = store.Update(ctx, "job-1", lookup.Completed(res, now.Add(2*time.Second)))
	require.NoError(t, err)
	require.Equal(t, lookup.StateCompleted, job.State)
	require.NotNil(t, job.Result)
	require.Nil(t, job.Error)
	require.Equal(t, job.StartedAt.Add(time.Second), *job.FinishedAt)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, job, got)
}

func TestJobStoreTerminalIsImmutable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(time.Hour)
	now := time.Now()
	require.NoError(t, store.Create(ctx, newQueuedJob("job-1", now)))
	_, err := store.Update(ctx, "job-1", lookup.Processing(now))
	require.NoError(t, err)
	_, err = store.Update(ctx, "job-1", lookup.Failed(lookup.JobError{Kind: lookup.KindUpstreamFailure, Message: "x"}, now))
	require.NoError(t, err)

	_, err = store.Update(ctx, "job-1", lookup.Completed(lookup.Result{Found: true}, now))
	require.ErrorIs(t, err, lookup.ErrTerminalJob)

	first, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	second, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, lookup.StateFailed, first.State)
	require.Nil(t, first.Result)
}

func TestJobStoreRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(time.Hour)
	require.NoError(t, store.Create(ctx, newQueuedJob("job-1", time.Now())))

	_, err := store.Update(ctx, "job-1", lookup.Completed(lookup.Result{}, time.Now()))
	require.ErrorIs(t, err, lookup.ErrInvalidTransition)

	job, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, lookup.StateQueued, job.State)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(time.Hour)
	_, err := store.Get(ctx, "missing")
	require.True(t, errors.Is(err, lookup.ErrJobNotFound))
	_, err = store.Update(ctx, "missing", lookup.Processing(time.Now()))
	require.ErrorIs(t, err, lookup.ErrJobNotFound)
}

func TestJobStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(time.Hour)
	now := time.Now()
	require.NoError(t, store.Create(ctx, newQueuedJob("job-1", now)))
	_, err := store.Update(ctx, "job-1", lookup.Processing(now))
	require.NoError(t, err)
	_, err = store.Update(ctx, "job-1", lookup.Completed(lookup.Result{Records: []lookup.Record{{"a": "1"}}}, now))
	require.NoError(t, err)

	job, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	job.Result.Records[0]["a"] = "mutated"

	again, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "1", again.Result.Records[0]["a"])
}

func TestJobStoreSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore(10 * time.Minute)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.Create(ctx, newQueuedJob("old", now.Add(-11*time.Minute))))
	require.NoError(t, store.Create(ctx, newQueuedJob("edge", now.Add(-10*time.Minute))))
	require.NoError(t, store.Create(ctx, newQueuedJob("fresh", now.Add(-time.Minute))))

	require.Equal(t, 1, store.Sweep(now))
	require.Equal(t, 2, store.Count())
	_, err := store.Get(ctx, "old")
	require.ErrorIs(t, err, lookup.ErrJobNotFound)

	require.Equal(t, map[lookup.State]int{lookup.StateQueued: 2}, store.CountByState())
	require.Zero(t, NewJobStore(0).Sweep(now))
}
