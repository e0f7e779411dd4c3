package ingestjob_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tp-nvrl8/ingestsched/internal/ingestjob"
	"github.com/tp-nvrl8/ingestsched/internal/model"
	"github.com/tp-nvrl8/ingestsched/internal/storage"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newStore(t *testing.T) *ingestjob.Store {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return ingestjob.New(db)
}

func TestCreateAndGet_RoundTrips(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := model.Job{
		ID:                        "job-1",
		RequestedStart:            date("2024-01-01"),
		RequestedEnd:              date("2024-12-31"),
		UniverseSymbolsConsidered: 42,
	}
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobRunning, got.State)
	require.Equal(t, 42, got.UniverseSymbolsConsidered)
	require.Nil(t, got.FinishedAt)
	require.True(t, got.RequestedStart.Equal(date("2024-01-01")))
}

func TestGet_UnknownJobReturnsErrNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateProgress_LeavesFinishedAtUnset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, model.Job{ID: "job-1", RequestedStart: date("2024-01-01"), RequestedEnd: date("2024-01-31")}))

	require.NoError(t, s.UpdateProgress(ctx, "job-1", model.JobProgress{Attempted: 5, Succeeded: 3, Failed: 2}))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobRunning, got.State)
	require.Nil(t, got.FinishedAt)
	require.Equal(t, 5, got.SymbolsAttempted)
}

func TestUpdateProgress_HonorsOptionalStateAndUniverseSymbolsConsidered(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, model.Job{ID: "job-1", RequestedStart: date("2024-01-01"), RequestedEnd: date("2024-01-31"), UniverseSymbolsConsidered: 10}))

	considered := 17
	failedState := model.JobFailed
	require.NoError(t, s.UpdateProgress(ctx, "job-1", model.JobProgress{
		State:                     &failedState,
		UniverseSymbolsConsidered: &considered,
		Attempted:                 5, Succeeded: 3, Failed: 2,
	}))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, got.State)
	require.Equal(t, 17, got.UniverseSymbolsConsidered)
	require.Nil(t, got.FinishedAt)
}

func TestFinalize_SetsFinishedAtAndState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, model.Job{ID: "job-1", RequestedStart: date("2024-01-01"), RequestedEnd: date("2024-01-31")}))

	require.NoError(t, s.Finalize(ctx, "job-1", model.JobSucceeded, model.JobProgress{Attempted: 10, Succeeded: 10}, ""))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, model.JobSucceeded, got.State)
	require.NotNil(t, got.FinishedAt)
}

func TestFinalize_RejectsRunningState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, model.Job{ID: "job-1", RequestedStart: date("2024-01-01"), RequestedEnd: date("2024-01-31")}))

	err := s.Finalize(ctx, "job-1", model.JobRunning, model.JobProgress{}, "")
	require.ErrorIs(t, err, model.ErrBadInput)
}

func TestGetLatest_ReturnsMostRecentlyCreated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, model.Job{ID: "job-1", RequestedStart: date("2024-01-01"), RequestedEnd: date("2024-01-31")}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Create(ctx, model.Job{ID: "job-2", RequestedStart: date("2024-02-01"), RequestedEnd: date("2024-02-29")}))

	got, err := s.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-2", got.ID)
}
