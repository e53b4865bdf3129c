package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qlaunch/pkg/db/models"
	"github.com/quatton/qlaunch/pkg/runs"
	"github.com/uptrace/bun"
)

// RunStore implements runs.Storage on a bun database.
type RunStore struct {
	db  *bun.DB
	now func() time.Time
}

// NewRunStore creates a RunStore. The schema must already be migrated.
func NewRunStore(db *bun.DB) *RunStore {
	return &RunStore{db: db, now: time.Now}
}

func toModel(run *runs.Run) *models.Run {
	tags := make(map[string]string, len(run.Tags))
	for k, v := range run.Tags {
		tags[k] = v
	}
	return &models.Run{
		ID:           run.ID,
		JobName:      run.JobName,
		CodeLocation: run.CodeLocation,
		Status:       string(run.Status),
		Tags:         tags,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

func fromModel(m *models.Run) *runs.Run {
	tags := m.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return &runs.Run{
		ID:           m.ID,
		JobName:      m.JobName,
		CodeLocation: m.CodeLocation,
		Status:       runs.Status(m.Status),
		Tags:         tags,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func notFound(runID string) error {
	return fmt.Errorf("%w: %s", runs.ErrRunNotFound, runID)
}

func runExists(ctx context.Context, db bun.IDB, runID string) (bool, error) {
	return db.NewSelect().Model((*models.Run)(nil)).Where("id = ?", runID).Exists(ctx)
}

func (s *RunStore) AddRun(ctx context.Context, run *runs.Run) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := runExists(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", runs.ErrRunExists, run.ID)
		}

		m := toModel(run)
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		_, err = tx.NewInsert().Model(m).Exec(ctx)
		return err
	})
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (*runs.Run, error) {
	m := new(models.Run)
	err := s.db.NewSelect().Model(m).Where("id = ?", runID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(runID)
		}
		return nil, err
	}
	return fromModel(m), nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter runs.Filter) ([]*runs.Run, error) {
	var ms []models.Run
	q := s.db.NewSelect().Model(&ms).Order("created_at ASC", "id ASC")
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statusStrings(filter.Statuses)))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*runs.Run, 0, len(ms))
	for i := range ms {
		out = append(out, fromModel(&ms[i]))
	}
	return out, nil
}

func (s *RunStore) UpdateStatus(ctx context.Context, runID string, status runs.Status, from ...runs.Status) error {
	q := s.db.NewUpdate().
		Model((*models.Run)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", runID)
	if len(from) > 0 {
		q = q.Where("status IN (?)", bun.In(statusStrings(from)))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// nothing matched: either the run is gone or its status moved on
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %s is %s", runs.ErrStatusConflict, runID, current.Status)
}

func statusStrings(statuses []runs.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}

func (s *RunStore) AddTags(ctx context.Context, runID string, tags map[string]string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(models.Run)
		if err := tx.NewSelect().Model(m).Where("id = ?", runID).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(runID)
			}
			return err
		}
		if m.Tags == nil {
			m.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			m.Tags[k] = v
		}
		m.UpdatedAt = s.now()
		_, err := tx.NewUpdate().Model(m).Column("tags", "updated_at").WherePK().Exec(ctx)
		return err
	})
}

func (s *RunStore) AddEvent(ctx context.Context, event runs.Event) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := runExists(ctx, tx, event.RunID)
		if err != nil {
			return err
		}
		if !exists {
			return notFound(event.RunID)
		}

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating event id: %w", err)
		}
		ts := event.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		_, err = tx.NewInsert().Model(&models.RunEvent{
			ID:        id.String(),
			RunID:     event.RunID,
			Type:      string(event.Type),
			Message:   event.Message,
			Timestamp: ts,
		}).Exec(ctx)
		return err
	})
}

func (s *RunStore) Events(ctx context.Context, runID string) ([]runs.Event, error) {
	exists, err := runExists(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound(runID)
	}

	var ms []models.RunEvent
	if err := s.db.NewSelect().Model(&ms).Where("run_id = ?", runID).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}

	events := make([]runs.Event, 0, len(ms))
	for _, m := range ms {
		events = append(events, runs.Event{
			RunID:     m.RunID,
			Type:      runs.EventType(m.Type),
			Message:   m.Message,
			Timestamp: m.Timestamp.UTC(),
		})
	}
	return events, nil
}

// Ensure RunStore implements runs.Storage.
var _ runs.Storage = (*RunStore)(nil)
