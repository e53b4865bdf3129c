package db

import (
	"context"
	"testing"
	"time"

	"github.com/quatton/qlaunch/pkg/qlog"
	"github.com/quatton/qlaunch/pkg/runs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	ctx := context.Background()

	database, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, Migrate(ctx, database, qlog.Discard()))
	return NewRunStore(database)
}

func TestRunStore_RunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddRun(ctx, &runs.Run{
		ID:           "r1",
		JobName:      "daily_etl",
		CodeLocation: "analytics",
		Status:       runs.StatusNotStarted,
		Tags:         map[string]string{"team": "data"},
		CreatedAt:    created,
	}))
	assert.ErrorIs(t, s.AddRun(ctx, &runs.Run{ID: "r1"}), runs.ErrRunExists)

	require.NoError(t, s.UpdateStatus(ctx, "r1", runs.StatusStarting))
	require.NoError(t, s.AddTags(ctx, "r1", map[string]string{"cloud_run_job_execution_id": "exec-1"}))

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "daily_etl", run.JobName)
	assert.Equal(t, "analytics", run.CodeLocation)
	assert.Equal(t, runs.StatusStarting, run.Status)
	assert.Equal(t, map[string]string{"team": "data", "cloud_run_job_execution_id": "exec-1"}, run.Tags)
	assert.True(t, run.CreatedAt.Equal(created))
}

func TestRunStore_ConditionalUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddRun(ctx, &runs.Run{ID: "r1", JobName: "job", Status: runs.StatusCanceled}))

	err := s.UpdateStatus(ctx, "r1", runs.StatusFailed, runs.StatusRunning, runs.StatusCanceling)
	assert.ErrorIs(t, err, runs.ErrStatusConflict)

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCanceled, run.Status)

	require.NoError(t, s.UpdateStatus(ctx, "r1", runs.StatusRunning, runs.StatusCanceled))
	assert.ErrorIs(t, s.UpdateStatus(ctx, "nope", runs.StatusFailed, runs.StatusRunning), runs.ErrRunNotFound)
}

func TestRunStore_MissingRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, runs.ErrRunNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "nope", runs.StatusFailed), runs.ErrRunNotFound)
	assert.ErrorIs(t, s.AddTags(ctx, "nope", map[string]string{"a": "b"}), runs.ErrRunNotFound)
	assert.ErrorIs(t, s.AddEvent(ctx, runs.Event{RunID: "nope", Type: runs.EventEngine}), runs.ErrRunNotFound)
	_, err = s.Events(ctx, "nope")
	assert.ErrorIs(t, err, runs.ErrRunNotFound)
}

func TestRunStore_ListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []struct {
		id     string
		status runs.Status
	}{
		{"a", runs.StatusRunning},
		{"b", runs.StatusSuccess},
		{"c", runs.StatusStarting},
	} {
		require.NoError(t, s.AddRun(ctx, &runs.Run{
			ID:        r.id,
			Status:    r.status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListRuns(ctx, runs.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := s.ListRuns(ctx, runs.Filter{Statuses: []runs.Status{runs.StatusStarting, runs.StatusRunning}})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)
}

func TestRunStore_Events(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddRun(ctx, &runs.Run{ID: "r1", Status: runs.StatusNotStarted}))
	require.NoError(t, s.AddEvent(ctx, runs.Event{RunID: "r1", Type: runs.EventStarting, Message: "Launching run"}))
	require.NoError(t, s.AddEvent(ctx, runs.Event{RunID: "r1", Type: runs.EventCanceled, Message: "canceled"}))

	events, err := s.Events(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, runs.EventStarting, events[0].Type)
	assert.Equal(t, runs.EventCanceled, events[1].Type)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestRunStore_BacksInstance(t *testing.T) {
	inst := runs.NewInstance(newTestStore(t), runs.WithLogger(qlog.Discard()))
	ctx := context.Background()

	run, err := inst.CreateRun(ctx, runs.CreateRunParams{JobName: "job"})
	require.NoError(t, err)
	require.NoError(t, inst.ReportRunStarted(ctx, run.ID, "worker up"))

	stored, err := inst.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusRunning, stored.Status)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", Config{}, "")
	assert.Error(t, err)
}
