package schemas

// CreateRunRequest represents a request to create a run
type CreateRunRequest struct {
	ID           string            `json:"id,omitempty" doc:"Run ID (generated when empty)"`
	JobName      string            `json:"job_name" minLength:"1" doc:"Orchestrator job name"`
	CodeLocation string            `json:"code_location,omitempty" doc:"Code location the job belongs to"`
	Tags         map[string]string `json:"tags,omitempty" doc:"Initial run tags"`
	Launch       bool              `json:"launch,omitempty" doc:"Launch the run right after creating it"`
}

// RunResponse represents an orchestrator run
type RunResponse struct {
	ID           string            `json:"id" doc:"Run ID"`
	JobName      string            `json:"job_name" doc:"Orchestrator job name"`
	CodeLocation string            `json:"code_location,omitempty" doc:"Code location"`
	Status       string            `json:"status" doc:"Run status"`
	ExecutionID  string            `json:"execution_id,omitempty" doc:"Cloud Run execution id, once launched"`
	Tags         map[string]string `json:"tags,omitempty" doc:"Run tags"`
	CreatedAt    string            `json:"created_at" doc:"Creation timestamp"`
	UpdatedAt    string            `json:"updated_at" doc:"Last status change timestamp"`
}

// RunEventResponse represents an entry in a run's event log
type RunEventResponse struct {
	Type      string `json:"type" doc:"Event type"`
	Message   string `json:"message" doc:"Event message"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// RunHealthResponse is the worker health of a run
type RunHealthResponse struct {
	Status  string `json:"status" enum:"UNKNOWN,RUNNING,SUCCESS,FAILED" doc:"Worker status"`
	Message string `json:"message,omitempty" doc:"Details about the status"`
}

// TerminateRunResponse is the outcome of a termination request
type TerminateRunResponse struct {
	Terminated bool   `json:"terminated" doc:"Whether a cancellation was issued"`
	Status     string `json:"status" doc:"Run status after the request"`
}
