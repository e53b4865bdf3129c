package runs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/quatton/qlaunch/pkg/qlog"
)

// RunLauncher starts and stops the remote worker for a run.
type RunLauncher interface {
	LaunchRun(ctx context.Context, lc LaunchContext) error
	Terminate(ctx context.Context, runID string) (bool, error)
}

// Instance is the orchestrator facade the launcher reports into. It owns
// every run status transition.
type Instance struct {
	storage  Storage
	launcher RunLauncher
	log      *qlog.Logger
	now      func() time.Time
}

// InstanceOption configures an Instance
type InstanceOption func(*Instance)

// WithLogger sets the logger.
func WithLogger(log *qlog.Logger) InstanceOption {
	return func(i *Instance) {
		i.log = log
	}
}

// WithRunLauncher sets the launcher used by LaunchRun and TerminateRun.
func WithRunLauncher(l RunLauncher) InstanceOption {
	return func(i *Instance) {
		i.launcher = l
	}
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) InstanceOption {
	return func(i *Instance) {
		i.now = now
	}
}

func NewInstance(storage Storage, opts ...InstanceOption) *Instance {
	i := &Instance{
		storage: storage,
		log:     qlog.NewDefault(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetRunLauncher registers the launcher after construction. The launcher
// itself needs the instance, so one of the two is always wired late.
func (i *Instance) SetRunLauncher(l RunLauncher) {
	i.launcher = l
}

// RunLauncher returns the registered launcher, or nil.
func (i *Instance) RunLauncher() RunLauncher {
	return i.launcher
}

// CreateRunParams describes a run to create.
type CreateRunParams struct {
	ID           string // Optional: if empty, a new ID will be generated
	JobName      string
	CodeLocation string
	Tags         map[string]string
}

// CreateRun stores a new NOT_STARTED run.
func (i *Instance) CreateRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	runID := params.ID
	if runID == "" {
		// UUIDv7 keeps ids sortable by creation time
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generating run id: %w", err)
		}
		runID = id.String()
	}

	now := i.now()
	run := &Run{
		ID:           runID,
		JobName:      params.JobName,
		CodeLocation: params.CodeLocation,
		Status:       StatusNotStarted,
		Tags:         make(map[string]string, len(params.Tags)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for k, v := range params.Tags {
		run.Tags[k] = v
	}

	if err := i.storage.AddRun(ctx, run); err != nil {
		if errors.Is(err, ErrRunExists) {
			return nil, qerr.New(qerr.CodeInvalidState, err)
		}
		return nil, fmt.Errorf("storing run: %w", err)
	}
	return run.Clone(), nil
}

// GetRun returns the run or a CodeRunNotFound error.
func (i *Instance) GetRun(ctx context.Context, runID string) (*Run, error) {
	run, err := i.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return run, nil
}

// ListRuns returns runs matching filter.
func (i *Instance) ListRuns(ctx context.Context, filter Filter) ([]*Run, error) {
	return i.storage.ListRuns(ctx, filter)
}

// AddRunTags merges tags into the run.
func (i *Instance) AddRunTags(ctx context.Context, runID string, tags map[string]string) error {
	return wrapStorageErr(i.storage.AddTags(ctx, runID, tags))
}

// Events returns the run's event log.
func (i *Instance) Events(ctx context.Context, runID string) ([]Event, error) {
	events, err := i.storage.Events(ctx, runID)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return events, nil
}

// ReportEngineEvent appends an informational event without touching status.
func (i *Instance) ReportEngineEvent(ctx context.Context, runID, message string) error {
	return wrapStorageErr(i.storage.AddEvent(ctx, Event{
		RunID:     runID,
		Type:      EventEngine,
		Message:   message,
		Timestamp: i.now(),
	}))
}

// ReportRunStarted marks the run RUNNING.
func (i *Instance) ReportRunStarted(ctx context.Context, runID, message string) error {
	return i.transition(ctx, runID, StatusRunning, message, allowedFrom[StatusRunning]...)
}

// ReportRunSuccess marks the run SUCCESS.
func (i *Instance) ReportRunSuccess(ctx context.Context, runID, message string) error {
	return i.transition(ctx, runID, StatusSuccess, message, allowedFrom[StatusSuccess]...)
}

// ReportRunFailure marks the run FAILED.
func (i *Instance) ReportRunFailure(ctx context.Context, runID, message string) error {
	return i.transition(ctx, runID, StatusFailed, message, allowedFrom[StatusFailed]...)
}

// ReportRunCanceling marks the run CANCELING while the remote cancel is in flight.
func (i *Instance) ReportRunCanceling(ctx context.Context, runID, message string) error {
	return i.transition(ctx, runID, StatusCanceling, message, allowedFrom[StatusCanceling]...)
}

// ReportRunCanceled marks the run CANCELED and emits the cancellation event.
func (i *Instance) ReportRunCanceled(ctx context.Context, runID, message string) error {
	return i.transition(ctx, runID, StatusCanceled, message, allowedFrom[StatusCanceled]...)
}

// ReportRunTransition moves the run to status only if it is still in from,
// the status the caller observed. A run that moved on in the meantime is
// left alone and a CodeInvalidState error is returned.
func (i *Instance) ReportRunTransition(ctx context.Context, runID string, from, status Status, message string) error {
	if !slices.Contains(allowedFrom[status], from) {
		return qerr.Newf(qerr.CodeInvalidState, "run %s cannot move from %s to %s", runID, from, status)
	}
	return i.transition(ctx, runID, status, message, from)
}

// LaunchRun moves a NOT_STARTED or QUEUED run to STARTING and hands it to
// the launcher. A launch error fails the run and is returned unchanged.
func (i *Instance) LaunchRun(ctx context.Context, runID string, ws Workspace) (*Run, error) {
	if i.launcher == nil {
		return nil, qerr.Newf(qerr.CodeConfig, "no run launcher registered")
	}

	run, err := i.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusNotStarted && run.Status != StatusQueued {
		return nil, qerr.Newf(qerr.CodeInvalidState, "run %s is %s, expected %s or %s",
			runID, run.Status, StatusNotStarted, StatusQueued)
	}

	// the conditional write lets only one concurrent launch through
	if err := i.transition(ctx, runID, StatusStarting, "Launching run", allowedFrom[StatusStarting]...); err != nil {
		return nil, err
	}
	run.Status = StatusStarting

	if err := i.launcher.LaunchRun(ctx, LaunchContext{Run: run, Workspace: ws}); err != nil {
		i.log.Error("launch failed", "run_id", runID, "error", err)
		if ferr := i.ReportRunFailure(ctx, runID, fmt.Sprintf("Error launching run: %v", err)); ferr != nil {
			i.log.Error("failed to record launch failure", "run_id", runID, "error", ferr)
		}
		return nil, err
	}

	return i.GetRun(ctx, runID)
}

// TerminateRun asks the launcher to stop the run's worker.
func (i *Instance) TerminateRun(ctx context.Context, runID string) (bool, error) {
	if i.launcher == nil {
		return false, qerr.Newf(qerr.CodeConfig, "no run launcher registered")
	}
	return i.launcher.Terminate(ctx, runID)
}

func (i *Instance) transition(ctx context.Context, runID string, status Status, message string, from ...Status) error {
	if err := i.storage.UpdateStatus(ctx, runID, status, from...); err != nil {
		return wrapStorageErr(err)
	}
	if err := i.storage.AddEvent(ctx, Event{
		RunID:     runID,
		Type:      statusEvents[status],
		Message:   message,
		Timestamp: i.now(),
	}); err != nil {
		return wrapStorageErr(err)
	}
	i.log.Debug("run status changed", "run_id", runID, "status", string(status))
	return nil
}

func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRunNotFound) {
		return qerr.New(qerr.CodeRunNotFound, err)
	}
	if errors.Is(err, ErrStatusConflict) {
		return qerr.New(qerr.CodeInvalidState, err)
	}
	return err
}
