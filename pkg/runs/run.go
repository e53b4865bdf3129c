// Package runs holds the orchestrator-side view of a run: its status, tags
// and engine events. The launcher reads runs from here and reports status
// changes back through Instance.
package runs

import (
	"time"
)

// Status is the orchestrator-level state of a run.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusQueued     Status = "QUEUED"
	StatusStarting   Status = "STARTING"
	StatusRunning    Status = "RUNNING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusCanceling  Status = "CANCELING"
	StatusCanceled   Status = "CANCELED"
)

// InProgressStatuses are the statuses a run worker can be alive in.
var InProgressStatuses = []Status{StatusStarting, StatusRunning, StatusCanceling}

// IsFinished reports whether no further transitions are expected.
func (s Status) IsFinished() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusQueued, StatusStarting, StatusRunning,
		StatusSuccess, StatusFailed, StatusCanceling, StatusCanceled:
		return true
	}
	return false
}

// Run is one orchestrator-tracked execution request.
type Run struct {
	ID           string            `json:"id"`
	JobName      string            `json:"job_name"`
	CodeLocation string            `json:"code_location"`
	Status       Status            `json:"status"`
	Tags         map[string]string `json:"tags,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Tag returns the value of tag key, or "" when unset.
func (r *Run) Tag(key string) string {
	if r == nil || r.Tags == nil {
		return ""
	}
	return r.Tags[key]
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			c.Tags[k] = v
		}
	}
	return &c
}

// EventType classifies an entry in a run's event log.
type EventType string

const (
	EventEngine    EventType = "ENGINE_EVENT"
	EventStarting  EventType = "RUN_STARTING"
	EventStart     EventType = "RUN_START"
	EventSuccess   EventType = "RUN_SUCCESS"
	EventFailure   EventType = "RUN_FAILURE"
	EventCanceling EventType = "RUN_CANCELING"
	EventCanceled  EventType = "RUN_CANCELED"
)

// statusEvents is the event emitted on entering each status.
var statusEvents = map[Status]EventType{
	StatusStarting:  EventStarting,
	StatusRunning:   EventStart,
	StatusSuccess:   EventSuccess,
	StatusFailed:    EventFailure,
	StatusCanceling: EventCanceling,
	StatusCanceled:  EventCanceled,
}

// allowedFrom lists the statuses each status may be entered from. No
// status can be left once finished.
var allowedFrom = map[Status][]Status{
	StatusStarting:  {StatusNotStarted, StatusQueued},
	StatusRunning:   {StatusNotStarted, StatusQueued, StatusStarting},
	StatusSuccess:   {StatusNotStarted, StatusQueued, StatusStarting, StatusRunning, StatusCanceling},
	StatusFailed:    {StatusNotStarted, StatusQueued, StatusStarting, StatusRunning, StatusCanceling},
	StatusCanceling: {StatusNotStarted, StatusQueued, StatusStarting, StatusRunning},
	StatusCanceled:  {StatusNotStarted, StatusQueued, StatusStarting, StatusRunning, StatusCanceling},
}

// Event is an entry in a run's event log.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows ListRuns. An empty Statuses matches every run.
type Filter struct {
	Statuses []Status
}

// Matches reports whether run passes the filter.
func (f Filter) Matches(run *Run) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if run.Status == s {
			return true
		}
	}
	return false
}
