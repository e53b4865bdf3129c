package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/quatton/qlaunch/pkg/cloudrun"
	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/quatton/qlaunch/pkg/runs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/durationpb"
)

// workerArgs is the JSON document passed to the worker after the command.
type workerArgs struct {
	RunID        string `json:"run_id"`
	JobName      string `json:"job_name"`
	CodeLocation string `json:"code_location,omitempty"`
}

// LaunchRun starts one Cloud Run execution for the run and tags the run
// with its execution id. No tag is written unless an execution id is
// obtained.
func (l *Launcher) LaunchRun(ctx context.Context, lc runs.LaunchContext) (err error) {
	started := time.Now()
	run := lc.Run
	if run == nil {
		return qerr.Newf(qerr.CodeConfig, "launch context has no run")
	}

	ctx, span := l.tracer.Start(ctx, "launcher.LaunchRun", trace.WithAttributes(
		attribute.String("qlaunch.run_id", run.ID),
		attribute.String("qlaunch.code_location", run.CodeLocation),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		l.metrics.ObserveLaunch(started, err)
	}()

	if lc.Workspace != nil && run.CodeLocation != "" && !lc.Workspace.HasCodeLocation(run.CodeLocation) {
		return qerr.Newf(qerr.CodeConfig, "code location %q is not in the workspace", run.CodeLocation)
	}

	req, err := l.runJobRequest(ctx, run)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("cloudrun.job", req.GetName()))

	log := l.log.With("run_id", run.ID, "job", req.GetName())
	log.Debug("running cloud run job")

	execution, err := l.jobs.RunJob(ctx, req, l.retryOpts...)
	if err != nil {
		if errors.Is(err, cloudrun.ErrNoExecution) {
			return qerr.New(qerr.CodeNoExecution, fmt.Errorf("running job %s: %w", req.GetName(), err))
		}
		return qerr.New(qerr.CodeRemote, fmt.Errorf("running job %s: %w", req.GetName(), err))
	}

	executionID := cloudrun.ExecutionID(execution.GetName())
	if executionID == "" {
		return qerr.New(qerr.CodeNoExecution, fmt.Errorf("running job %s: %w", req.GetName(), cloudrun.ErrNoExecution))
	}

	if err := l.instance.AddRunTags(ctx, run.ID, map[string]string{ExecutionIDTag: executionID}); err != nil {
		return fmt.Errorf("tagging run %s with execution %s: %w", run.ID, executionID, err)
	}

	l.reportEngineEvent(ctx, run.ID, fmt.Sprintf("Launched Cloud Run execution %s", executionID))
	log.Info("launched run", "execution", executionID)
	return nil
}

func (l *Launcher) runJobRequest(ctx context.Context, run *runs.Run) (*runpb.RunJobRequest, error) {
	target, err := l.resolveTarget(ctx, run.CodeLocation)
	if err != nil {
		return nil, err
	}

	env, err := l.containerEnv(ctx, run, target)
	if err != nil {
		return nil, err
	}

	args, err := l.containerArgs(run)
	if err != nil {
		return nil, err
	}

	return &runpb.RunJobRequest{
		Name: target.Name(),
		Overrides: &runpb.RunJobRequest_Overrides{
			ContainerOverrides: []*runpb.RunJobRequest_Overrides_ContainerOverride{
				{
					Args: args,
					Env:  cloudrun.EnvVars(env),
				},
			},
			Timeout: durationpb.New(l.cfg.RunTimeoutDuration()),
		},
	}, nil
}

// containerEnv merges global env, per-location env and the run identity.
// Later sources win.
func (l *Launcher) containerEnv(ctx context.Context, run *runs.Run, target jobTarget) (map[string]string, error) {
	env, err := l.resolveEnv(ctx, l.cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	for k, v := range target.Env {
		env[k] = v
	}
	env[EnvRunID] = run.ID
	if run.CodeLocation != "" {
		env[EnvCodeLocation] = run.CodeLocation
	}
	return env, nil
}

func (l *Launcher) containerArgs(run *runs.Run) ([]string, error) {
	payload, err := json.Marshal(workerArgs{
		RunID:        run.ID,
		JobName:      run.JobName,
		CodeLocation: run.CodeLocation,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding worker args: %w", err)
	}

	command := l.cfg.WorkerCommand
	if len(command) == 0 {
		command = DefaultWorkerCommand
	}
	args := make([]string, 0, len(command)+1)
	args = append(args, command...)
	return append(args, string(payload)), nil
}
