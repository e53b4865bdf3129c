package runs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// ErrRunNotFound is returned by Storage when no run has the given id.
var ErrRunNotFound = errors.New("run not found")

// ErrRunExists is returned by AddRun for a duplicate id.
var ErrRunExists = errors.New("run already exists")

// ErrStatusConflict is returned by UpdateStatus when the run is not in one
// of the expected statuses.
var ErrStatusConflict = errors.New("run status changed")

// Storage persists runs and their event logs.
type Storage interface {
	// AddRun stores a new run. Returns ErrRunExists for a duplicate id.
	AddRun(ctx context.Context, run *Run) error

	// GetRun returns a copy of the run. Returns ErrRunNotFound if absent.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns runs matching filter ordered by creation time.
	ListRuns(ctx context.Context, filter Filter) ([]*Run, error)

	// UpdateStatus sets the run's status. When from is not empty the write
	// only happens if the current status is one of from; otherwise it
	// returns ErrStatusConflict and leaves the run untouched.
	UpdateStatus(ctx context.Context, runID string, status Status, from ...Status) error

	// AddTags merges tags into the run's existing tags.
	AddTags(ctx context.Context, runID string, tags map[string]string) error

	// AddEvent appends to the run's event log.
	AddEvent(ctx context.Context, event Event) error

	// Events returns the run's event log in insertion order.
	Events(ctx context.Context, runID string) ([]Event, error)
}

// MemoryStorage is a Storage kept in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	events map[string][]Event
	now    func() time.Time
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs:   make(map[string]*Run),
		events: make(map[string][]Event),
		now:    time.Now,
	}
}

func (s *MemoryStorage) AddRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryStorage) GetRun(_ context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.Clone(), nil
}

func (s *MemoryStorage) ListRuns(_ context.Context, filter Filter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Matches(run) {
			out = append(out, run.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStorage) UpdateStatus(_ context.Context, runID string, status Status, from ...Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if len(from) > 0 && !slices.Contains(from, run.Status) {
		return fmt.Errorf("%w: run %s is %s", ErrStatusConflict, runID, run.Status)
	}
	run.Status = status
	run.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStorage) AddTags(_ context.Context, runID string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Tags == nil {
		run.Tags = make(map[string]string, len(tags))
	}
	for k, v := range tags {
		run.Tags[k] = v
	}
	run.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStorage) AddEvent(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[event.RunID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, event.RunID)
	}
	s.events[event.RunID] = append(s.events[event.RunID], event)
	return nil
}

func (s *MemoryStorage) Events(_ context.Context, runID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return append([]Event(nil), s.events[runID]...), nil
}

// Ensure MemoryStorage implements Storage.
var _ Storage = (*MemoryStorage)(nil)
