package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qlaunch/pkg/launcher"
	"github.com/quatton/qlaunch/pkg/qapi/schemas"
	"github.com/quatton/qlaunch/pkg/qapi/services"
	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/quatton/qlaunch/pkg/runs"
)

// CreateRunInput defines the input for creating a run
type CreateRunInput struct {
	Body schemas.CreateRunRequest
}

// RunOutput is the response for a single run
type RunOutput struct {
	Body schemas.RunResponse
}

// RunIDInput addresses one run
type RunIDInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

// ListRunsInput defines the input for listing runs
type ListRunsInput struct {
	Status []string `query:"status" doc:"Filter by status" required:"false"`
}

// ListRunsOutput is the response for listing runs
type ListRunsOutput struct {
	Body struct {
		Runs []schemas.RunResponse `json:"runs" doc:"List of runs"`
	}
}

// RunEventsOutput is the response for a run's event log
type RunEventsOutput struct {
	Body struct {
		Events []schemas.RunEventResponse `json:"events" doc:"Run events, oldest first"`
	}
}

// RunHealthOutput is the response for a worker health check
type RunHealthOutput struct {
	Body schemas.RunHealthResponse
}

// TerminateRunOutput is the response for terminating a run
type TerminateRunOutput struct {
	Body schemas.TerminateRunResponse
}

// RegisterRuns registers run-related routes
func RegisterRuns(api huma.API, svcs *services.Services) {
	tags := []string{TagRuns.String()}

	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/api/runs",
		Summary:       "Create a run",
		Description:   "Create a NOT_STARTED run, optionally launching it right away",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateRunInput) (*RunOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("run services not configured")
		}

		run, err := svcs.Runs.CreateRun(ctx, runs.CreateRunParams{
			ID:           input.Body.ID,
			JobName:      input.Body.JobName,
			CodeLocation: input.Body.CodeLocation,
			Tags:         input.Body.Tags,
		})
		if err != nil {
			return nil, toHumaError(err)
		}

		if input.Body.Launch {
			run, err = svcs.Runs.LaunchRun(ctx, run.ID, svcs.Workspace)
			if err != nil {
				return nil, toHumaError(err)
			}
		}

		return &RunOutput{Body: toRunResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Description: "Get a list of runs, optionally filtered by status",
		Tags:        tags,
	}, func(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
		resp := &ListRunsOutput{}
		resp.Body.Runs = []schemas.RunResponse{}
		if svcs == nil {
			return resp, nil
		}

		var filter runs.Filter
		for _, s := range input.Status {
			status := runs.Status(s)
			if !status.Valid() {
				return nil, huma.Error400BadRequest("unknown run status " + s)
			}
			filter.Statuses = append(filter.Statuses, status)
		}

		list, err := svcs.Runs.ListRuns(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}
		for _, run := range list {
			resp.Body.Runs = append(resp.Body.Runs, toRunResponse(run))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}",
		Summary:     "Get run details",
		Description: "Get details of a specific run",
		Tags:        tags,
	}, func(ctx context.Context, input *RunIDInput) (*RunOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("run services not configured")
		}

		run, err := svcs.Runs.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RunOutput{Body: toRunResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "launch-run",
		Method:      http.MethodPost,
		Path:        "/api/runs/{runId}/launch",
		Summary:     "Launch a run",
		Description: "Start a Cloud Run execution for a NOT_STARTED or QUEUED run",
		Tags:        tags,
	}, func(ctx context.Context, input *RunIDInput) (*RunOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("run services not configured")
		}

		run, err := svcs.Runs.LaunchRun(ctx, input.RunID, svcs.Workspace)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RunOutput{Body: toRunResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "terminate-run",
		Method:      http.MethodPost,
		Path:        "/api/runs/{runId}/terminate",
		Summary:     "Terminate a run",
		Description: "Cancel the run's Cloud Run execution. Runs that are finished or were never launched are left alone.",
		Tags:        tags,
	}, func(ctx context.Context, input *RunIDInput) (*TerminateRunOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("run services not configured")
		}

		terminated, err := svcs.Runs.TerminateRun(ctx, input.RunID)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := &TerminateRunOutput{}
		resp.Body.Terminated = terminated
		if run, err := svcs.Runs.GetRun(ctx, input.RunID); err == nil {
			resp.Body.Status = string(run.Status)
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-health",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/health",
		Summary:     "Check run worker health",
		Description: "Read the run's Cloud Run execution once and report the worker status",
		Tags:        tags,
	}, func(ctx context.Context, input *RunIDInput) (*RunHealthOutput, error) {
		if svcs == nil || svcs.Health == nil {
			return nil, huma.Error503ServiceUnavailable("run services not configured")
		}

		run, err := svcs.Runs.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, toHumaError(err)
		}

		result := svcs.Health.CheckRunWorkerHealth(ctx, run)
		return &RunHealthOutput{Body: schemas.RunHealthResponse{
			Status:  string(result.Status),
			Message: result.Message,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-events",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/events",
		Summary:     "List run events",
		Description: "Get the run's event log",
		Tags:        tags,
	}, func(ctx context.Context, input *RunIDInput) (*RunEventsOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("run services not configured")
		}

		if _, err := svcs.Runs.GetRun(ctx, input.RunID); err != nil {
			return nil, toHumaError(err)
		}
		events, err := svcs.Runs.Events(ctx, input.RunID)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := &RunEventsOutput{}
		resp.Body.Events = make([]schemas.RunEventResponse, 0, len(events))
		for _, e := range events {
			resp.Body.Events = append(resp.Body.Events, schemas.RunEventResponse{
				Type:      string(e.Type),
				Message:   e.Message,
				Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			})
		}
		return resp, nil
	})
}

// toHumaError maps error codes to HTTP statuses.
func toHumaError(err error) error {
	switch qerr.CodeOf(err) {
	case qerr.CodeRunNotFound:
		return huma.Error404NotFound(err.Error())
	case qerr.CodeConfig:
		return huma.Error400BadRequest(err.Error())
	case qerr.CodeInvalidState:
		return huma.Error409Conflict(err.Error())
	case qerr.CodeRemote, qerr.CodeNoExecution:
		return huma.Error502BadGateway(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

func toRunResponse(run *runs.Run) schemas.RunResponse {
	return schemas.RunResponse{
		ID:           run.ID,
		JobName:      run.JobName,
		CodeLocation: run.CodeLocation,
		Status:       string(run.Status),
		ExecutionID:  run.Tag(launcher.ExecutionIDTag),
		Tags:         run.Tags,
		CreatedAt:    run.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    run.UpdatedAt.Format(time.RFC3339Nano),
	}
}
