package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_TagsAreMerged(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.AddRun(ctx, &Run{ID: "r1", Tags: map[string]string{"a": "1"}}))
	require.NoError(t, s.AddTags(ctx, "r1", map[string]string{"b": "2", "a": "3"}))

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, run.Tags)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.AddRun(ctx, &Run{ID: "r1", Tags: map[string]string{"a": "1"}}))

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	run.Tags["a"] = "mutated"
	run.Status = StatusFailed

	again, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "1", again.Tags["a"])
	assert.Equal(t, Status(""), again.Status)
}

func TestMemoryStorage_ListRunsFilter(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddRun(ctx, &Run{ID: "b", Status: StatusRunning, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.AddRun(ctx, &Run{ID: "a", Status: StatusStarting, CreatedAt: base}))
	require.NoError(t, s.AddRun(ctx, &Run{ID: "c", Status: StatusSuccess, CreatedAt: base.Add(2 * time.Minute)}))

	all, err := s.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)

	active, err := s.ListRuns(ctx, Filter{Statuses: InProgressStatuses})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestMemoryStorage_MissingRun(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateStatus(ctx, "x", StatusFailed), ErrRunNotFound)
	assert.ErrorIs(t, s.AddTags(ctx, "x", map[string]string{"k": "v"}), ErrRunNotFound)
	assert.ErrorIs(t, s.AddEvent(ctx, Event{RunID: "x"}), ErrRunNotFound)
	_, err := s.Events(ctx, "x")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStorage_ConditionalUpdate(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.AddRun(ctx, &Run{ID: "a", Status: StatusRunning}))

	err := s.UpdateStatus(ctx, "a", StatusStarting, StatusNotStarted, StatusQueued)
	assert.ErrorIs(t, err, ErrStatusConflict)

	require.NoError(t, s.UpdateStatus(ctx, "a", StatusFailed, StatusRunning))
	run, err := s.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "x", StatusFailed, StatusRunning), ErrRunNotFound)
}

func TestStaticWorkspace(t *testing.T) {
	assert.True(t, StaticWorkspace(nil).HasCodeLocation("anything"))
	ws := StaticWorkspace{"a", "b"}
	assert.True(t, ws.HasCodeLocation("b"))
	assert.False(t, ws.HasCodeLocation("c"))
}
