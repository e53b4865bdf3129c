package launcher

import (
	"context"
	"fmt"

	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/quatton/qlaunch/pkg/cloudrun"
	"github.com/quatton/qlaunch/pkg/qerr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Terminate cancels the run's Cloud Run execution. It returns false with
// no error when there is nothing to cancel: the run is unknown, already
// finished or was never launched.
func (l *Launcher) Terminate(ctx context.Context, runID string) (terminated bool, err error) {
	ctx, span := l.tracer.Start(ctx, "launcher.Terminate", trace.WithAttributes(
		attribute.String("qlaunch.run_id", runID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("qlaunch.terminated", terminated))
		span.End()
		l.metrics.ObserveTermination(terminated, err)
	}()

	log := l.log.With("run_id", runID)

	run, err := l.instance.GetRun(ctx, runID)
	if err != nil {
		if qerr.IsCode(err, qerr.CodeRunNotFound) {
			log.Warn("terminate requested for unknown run")
			return false, nil
		}
		return false, err
	}
	if run.Status.IsFinished() {
		log.Debug("run already finished, nothing to terminate", "status", string(run.Status))
		return false, nil
	}

	executionID := run.Tag(ExecutionIDTag)
	if executionID == "" {
		log.Debug("run has no cloud run execution, nothing to terminate")
		return false, nil
	}

	target, err := l.resolveTarget(ctx, run.CodeLocation)
	if err != nil {
		return false, err
	}
	name := cloudrun.ExecutionName(target.Name(), executionID)

	if err := l.instance.ReportRunCanceling(ctx, runID, "Sending run termination request."); err != nil {
		if qerr.IsCode(err, qerr.CodeInvalidState) {
			log.Debug("run finished before termination, nothing to terminate")
			return false, nil
		}
		return false, err
	}

	if err := l.executions.CancelExecution(ctx, &runpb.CancelExecutionRequest{Name: name}); err != nil {
		l.reportEngineEvent(ctx, runID, fmt.Sprintf("Failed to cancel Cloud Run execution %s: %v", name, err))
		return false, qerr.New(qerr.CodeRemote, fmt.Errorf("canceling execution %s: %w", name, err))
	}

	if err := l.instance.ReportRunCanceled(ctx, runID, fmt.Sprintf("Canceled Cloud Run execution %s.", executionID)); err != nil {
		if !qerr.IsCode(err, qerr.CodeInvalidState) {
			return false, err
		}
		// the monitor already closed the run
		log.Debug("run finished while canceling", "error", err)
	}
	log.Info("terminated run", "execution", executionID)
	return true, nil
}
