package launcher

import (
	"context"
	"fmt"

	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/quatton/qlaunch/pkg/cloudrun"
	"github.com/quatton/qlaunch/pkg/runs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkerStatus is the health of a run's remote worker.
type WorkerStatus string

const (
	WorkerStatusUnknown WorkerStatus = "UNKNOWN"
	WorkerStatusRunning WorkerStatus = "RUNNING"
	WorkerStatusSuccess WorkerStatus = "SUCCESS"
	WorkerStatusFailed  WorkerStatus = "FAILED"
)

// CheckRunHealthResult is the outcome of a worker health check.
type CheckRunHealthResult struct {
	Status  WorkerStatus
	Message string
}

// CheckRunWorkerHealth reads the run's execution once and maps its state.
// Errors never produce FAILED; they are reported as UNKNOWN.
func (l *Launcher) CheckRunWorkerHealth(ctx context.Context, run *runs.Run) (result CheckRunHealthResult) {
	if run == nil {
		l.metrics.ObserveHealthCheck(string(WorkerStatusUnknown))
		return CheckRunHealthResult{Status: WorkerStatusUnknown, Message: "no run given"}
	}
	ctx, span := l.tracer.Start(ctx, "launcher.CheckRunWorkerHealth", trace.WithAttributes(
		attribute.String("qlaunch.run_id", run.ID),
	))
	defer func() {
		span.SetAttributes(attribute.String("qlaunch.worker_status", string(result.Status)))
		span.End()
		l.metrics.ObserveHealthCheck(string(result.Status))
	}()

	executionID := run.Tag(ExecutionIDTag)
	if executionID == "" {
		return CheckRunHealthResult{
			Status:  WorkerStatusUnknown,
			Message: "run has no Cloud Run execution",
		}
	}

	target, err := l.resolveTarget(ctx, run.CodeLocation)
	if err != nil {
		return CheckRunHealthResult{Status: WorkerStatusUnknown, Message: err.Error()}
	}
	name := cloudrun.ExecutionName(target.Name(), executionID)

	execution, err := l.executions.GetExecution(ctx, &runpb.GetExecutionRequest{Name: name})
	if err != nil {
		l.log.Warn("failed to get execution", "run_id", run.ID, "execution", name, "error", err)
		return CheckRunHealthResult{
			Status:  WorkerStatusUnknown,
			Message: fmt.Sprintf("getting execution %s: %v", name, err),
		}
	}
	return ExecutionHealth(execution)
}

// ExecutionHealth maps an execution's task counts to a worker status.
// A cancelled execution is reported as FAILED.
func ExecutionHealth(execution *runpb.Execution) CheckRunHealthResult {
	switch {
	case execution.GetFailedCount() > 0:
		return CheckRunHealthResult{
			Status:  WorkerStatusFailed,
			Message: fmt.Sprintf("%d task(s) failed", execution.GetFailedCount()),
		}
	case execution.GetCancelledCount() > 0:
		return CheckRunHealthResult{
			Status:  WorkerStatusFailed,
			Message: fmt.Sprintf("%d task(s) cancelled", execution.GetCancelledCount()),
		}
	case execution.GetCompletionTime() != nil:
		if execution.GetSucceededCount() < execution.GetTaskCount() {
			return CheckRunHealthResult{
				Status: WorkerStatusFailed,
				Message: fmt.Sprintf("execution completed with %d of %d task(s) succeeded",
					execution.GetSucceededCount(), execution.GetTaskCount()),
			}
		}
		return CheckRunHealthResult{Status: WorkerStatusSuccess, Message: "execution completed"}
	case execution.GetTaskCount() > 0 && execution.GetSucceededCount() >= execution.GetTaskCount():
		return CheckRunHealthResult{Status: WorkerStatusSuccess, Message: "all tasks succeeded"}
	}
	return CheckRunHealthResult{
		Status:  WorkerStatusRunning,
		Message: fmt.Sprintf("%d task(s) running", execution.GetRunningCount()),
	}
}
