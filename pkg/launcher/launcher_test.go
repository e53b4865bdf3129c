package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/quatton/qlaunch/pkg/cloudrun"
	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/quatton/qlaunch/pkg/qlog"
	"github.com/quatton/qlaunch/pkg/runs"
	"github.com/quatton/qlaunch/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	testJobName       = "projects/test_project/locations/test_region/jobs/test_job_name"
	testExecutionID   = "test_execution_id"
	testExecutionName = testJobName + "/executions/" + testExecutionID
)

type fakeJobs struct {
	mu       sync.Mutex
	requests []*runpb.RunJobRequest
	err      error
	noName   bool
}

func (f *fakeJobs) RunJob(_ context.Context, req *runpb.RunJobRequest, _ ...gax.CallOption) (*runpb.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.noName {
		return &runpb.Execution{}, nil
	}
	return &runpb.Execution{Name: cloudrun.ExecutionName(req.GetName(), testExecutionID)}, nil
}

// fakeExecutions reports one running task until the execution is cancelled.
type fakeExecutions struct {
	mu        sync.Mutex
	gets      []string
	cancels   []string
	cancelled bool
	getErr    error
	cancelErr error
	onCancel  func()
}

func (f *fakeExecutions) GetExecution(_ context.Context, req *runpb.GetExecutionRequest, _ ...gax.CallOption) (*runpb.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, req.GetName())
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.cancelled {
		return &runpb.Execution{Name: req.GetName(), TaskCount: 1, CancelledCount: 1}, nil
	}
	return &runpb.Execution{Name: req.GetName(), TaskCount: 1, RunningCount: 1}, nil
}

func (f *fakeExecutions) CancelExecution(_ context.Context, req *runpb.CancelExecutionRequest, _ ...gax.CallOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, req.GetName())
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = true
	if f.onCancel != nil {
		f.onCancel()
	}
	return nil
}

type countingResolver struct {
	secrets.Static
	calls int
}

func (c *countingResolver) ResolveSecret(ctx context.Context, name string) (string, error) {
	c.calls++
	return c.Static.ResolveSecret(ctx, name)
}

type harness struct {
	launcher   *Launcher
	instance   *runs.Instance
	jobs       *fakeJobs
	executions *fakeExecutions
	secrets    *countingResolver
}

func testConfig() *Config {
	return &Config{
		Project:    "test_project",
		Region:     "test_region",
		JobName:    "test_job_name",
		RunTimeout: DefaultRunTimeout,
		JobNameByCodeLocation: map[string]JobConfig{
			"bare_location": {Name: "bare_job"},
			"configured_location": {
				Name:      "test_job_with_config",
				ProjectID: &ValueSource{Literal: "test_gcp-123"},
				Region:    &ValueSource{Literal: "other_test_region"},
			},
			"indirect_location": {
				Name:      "indirect_job",
				ProjectID: &ValueSource{SecretName: "project-secret"},
				Region:    &ValueSource{Env: "RUN_REGION"},
				Env: map[string]ValueSource{
					"api_key": {SecretName: "api-key"},
				},
			},
		},
		Env: map[string]ValueSource{
			"LOG_LEVEL": {Literal: "debug"},
		},
	}
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()

	h := &harness{
		instance:   runs.NewInstance(runs.NewMemoryStorage(), runs.WithLogger(qlog.Discard())),
		jobs:       &fakeJobs{},
		executions: &fakeExecutions{},
		secrets: &countingResolver{Static: secrets.Static{
			"project-secret": "secret_project",
			"api-key":        "s3cr3t",
		}},
	}
	env := map[string]string{"RUN_REGION": "env_region"}

	l, err := New(cfg, h.instance,
		WithClients(h.jobs, h.executions),
		WithSecretResolver(h.secrets),
		WithEnvLookup(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}),
		WithLogger(qlog.Discard()),
	)
	require.NoError(t, err)
	h.instance.SetRunLauncher(l)
	h.launcher = l
	return h
}

func (h *harness) createRun(t *testing.T, codeLocation string) *runs.Run {
	t.Helper()
	run, err := h.instance.CreateRun(context.Background(), runs.CreateRunParams{
		JobName:      "my_job",
		CodeLocation: codeLocation,
	})
	require.NoError(t, err)
	return run
}

func (h *harness) launch(t *testing.T, codeLocation string) *runs.Run {
	t.Helper()
	run := h.createRun(t, codeLocation)
	launched, err := h.instance.LaunchRun(context.Background(), run.ID, runs.StaticWorkspace(nil))
	require.NoError(t, err)
	return launched
}

func TestLaunchRun_DefaultJob(t *testing.T) {
	h := newHarness(t, testConfig())

	run := h.launch(t, "")

	require.Len(t, h.jobs.requests, 1)
	req := h.jobs.requests[0]
	assert.Equal(t, testJobName, req.GetName())
	assert.Equal(t, 7200*time.Second, req.GetOverrides().GetTimeout().AsDuration())
	assert.Equal(t, testExecutionID, run.Tag(ExecutionIDTag))
	assert.Equal(t, runs.StatusStarting, run.Status)
}

func TestLaunchRun_CodeLocationOverride(t *testing.T) {
	h := newHarness(t, testConfig())

	run := h.launch(t, "configured_location")

	require.Len(t, h.jobs.requests, 1)
	req := h.jobs.requests[0]
	assert.Equal(t, "projects/test_gcp-123/locations/other_test_region/jobs/test_job_with_config", req.GetName())
	assert.Equal(t, 7200*time.Second, req.GetOverrides().GetTimeout().AsDuration())
	assert.Equal(t, testExecutionID, run.Tag(ExecutionIDTag))
}

func TestLaunchRun_BareCodeLocationUsesDefaults(t *testing.T) {
	h := newHarness(t, testConfig())

	h.launch(t, "bare_location")

	require.Len(t, h.jobs.requests, 1)
	assert.Equal(t, "projects/test_project/locations/test_region/jobs/bare_job", h.jobs.requests[0].GetName())
}

func TestLaunchRun_ContainerOverrides(t *testing.T) {
	h := newHarness(t, testConfig())

	run := h.launch(t, "indirect_location")

	require.Len(t, h.jobs.requests, 1)
	req := h.jobs.requests[0]
	assert.Equal(t, "projects/secret_project/locations/env_region/jobs/indirect_job", req.GetName())

	containers := req.GetOverrides().GetContainerOverrides()
	require.Len(t, containers, 1)

	args := containers[0].GetArgs()
	require.Len(t, args, 3)
	assert.Equal(t, DefaultWorkerCommand, args[:2])
	var payload workerArgs
	require.NoError(t, json.Unmarshal([]byte(args[2]), &payload))
	assert.Equal(t, workerArgs{RunID: run.ID, JobName: "my_job", CodeLocation: "indirect_location"}, payload)

	env := map[string]string{}
	for _, v := range containers[0].GetEnv() {
		env[v.GetName()] = v.GetValue()
	}
	assert.Equal(t, map[string]string{
		"API_KEY":       "s3cr3t",
		"LOG_LEVEL":     "debug",
		EnvRunID:        run.ID,
		EnvCodeLocation: "indirect_location",
	}, env)
}

func TestLaunchRun_Concurrent(t *testing.T) {
	h := newHarness(t, testConfig())
	run := h.createRun(t, "")

	const launches = 8
	errs := make([]error, launches)
	var wg sync.WaitGroup
	for i := range launches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.instance.LaunchRun(context.Background(), run.ID, nil)
		}()
	}
	wg.Wait()

	var launched int
	for _, err := range errs {
		if err == nil {
			launched++
			continue
		}
		assert.True(t, qerr.IsCode(err, qerr.CodeInvalidState), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, launched)
	assert.Len(t, h.jobs.requests, 1)
}

func TestLaunchRun_EnvNamesKeepCase(t *testing.T) {
	cfg := testConfig()
	cfg.Env["HuggingFace_Token"] = ValueSource{Name: "HuggingFace_Token", SecretName: "api-key"}
	cfg.Env["pythonpath"] = ValueSource{Literal: "/app"}
	h := newHarness(t, cfg)

	h.launch(t, "")

	require.Len(t, h.jobs.requests, 1)
	env := map[string]string{}
	for _, v := range h.jobs.requests[0].GetOverrides().GetContainerOverrides()[0].GetEnv() {
		env[v.GetName()] = v.GetValue()
	}
	assert.Equal(t, "s3cr3t", env["HuggingFace_Token"])
	assert.Equal(t, "/app", env["PYTHONPATH"])
	assert.NotContains(t, env, "HUGGINGFACE_TOKEN")
}

func TestLaunchRun_RemoteFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.jobs.err = errors.New("quota exceeded")
	run := h.createRun(t, "")

	_, err := h.instance.LaunchRun(context.Background(), run.ID, nil)
	require.Error(t, err)
	assert.True(t, qerr.IsCode(err, qerr.CodeRemote))

	stored, err := h.instance.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, stored.Status)
	assert.Empty(t, stored.Tag(ExecutionIDTag))
}

func TestLaunchRun_NoExecution(t *testing.T) {
	h := newHarness(t, testConfig())
	h.jobs.noName = true
	run := h.createRun(t, "")

	_, err := h.instance.LaunchRun(context.Background(), run.ID, nil)
	assert.True(t, qerr.IsCode(err, qerr.CodeNoExecution))

	stored, err := h.instance.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Tags)
}

func TestLaunchRun_ConfigErrors(t *testing.T) {
	cfg := testConfig()
	cfg.JobNameByCodeLocation["broken_location"] = JobConfig{
		Name:   "broken_job",
		Region: &ValueSource{Env: "UNSET_REGION"},
	}
	h := newHarness(t, cfg)
	ctx := context.Background()

	run := h.createRun(t, "broken_location")
	_, err := h.instance.LaunchRun(ctx, run.ID, nil)
	assert.True(t, qerr.IsCode(err, qerr.CodeConfig))

	other := h.createRun(t, "elsewhere")
	_, err = h.instance.LaunchRun(ctx, other.ID, runs.StaticWorkspace{"bare_location"})
	assert.True(t, qerr.IsCode(err, qerr.CodeConfig))

	assert.Empty(t, h.jobs.requests)
}

func TestEnvOverrideForCodeLocation(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	overrides, err := h.launcher.EnvOverrideForCodeLocation(ctx, "bare_location")
	require.NoError(t, err)
	assert.Nil(t, overrides)

	overrides, err = h.launcher.EnvOverrideForCodeLocation(ctx, "unknown_location")
	require.NoError(t, err)
	assert.Nil(t, overrides)

	overrides, err = h.launcher.EnvOverrideForCodeLocation(ctx, "configured_location")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		OverrideProjectID: "test_gcp-123",
		OverrideRegion:    "other_test_region",
	}, overrides)
	assert.Zero(t, h.secrets.calls)

	overrides, err = h.launcher.EnvOverrideForCodeLocation(ctx, "indirect_location")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		OverrideProjectID: "secret_project",
		OverrideRegion:    "env_region",
	}, overrides)
	assert.Equal(t, 1, h.secrets.calls)
}

func TestEnvOverrideForCodeLocation_OnlySetKeys(t *testing.T) {
	cfg := testConfig()
	cfg.JobNameByCodeLocation["region_only"] = JobConfig{Region: &ValueSource{Literal: "asia-east1"}}
	h := newHarness(t, cfg)

	overrides, err := h.launcher.EnvOverrideForCodeLocation(context.Background(), "region_only")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{OverrideRegion: "asia-east1"}, overrides)
}

func TestTerminate(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	run := h.launch(t, "")

	terminated, err := h.instance.TerminateRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, terminated)

	stored, err := h.instance.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCanceled, stored.Status)

	assert.Equal(t, []string{testExecutionName}, h.executions.cancels)

	events, err := h.instance.Events(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.EventCanceled, events[len(events)-1].Type)

	// A finished run is not cancelled twice.
	terminated, err = h.instance.TerminateRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, terminated)
	assert.Len(t, h.executions.cancels, 1)
}

func TestTerminate_RunClosedWhileCanceling(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	run := h.launch(t, "")
	h.executions.onCancel = func() {
		require.NoError(t, h.instance.ReportRunCanceled(ctx, run.ID, "Execution stopped while canceling."))
	}

	terminated, err := h.launcher.Terminate(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, terminated)

	stored, err := h.instance.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCanceled, stored.Status)

	events, err := h.instance.Events(ctx, run.ID)
	require.NoError(t, err)
	var canceled int
	for _, e := range events {
		if e.Type == runs.EventCanceled {
			canceled++
		}
	}
	assert.Equal(t, 1, canceled)
}

func TestTerminate_NotLaunched(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	run := h.createRun(t, "")

	terminated, err := h.launcher.Terminate(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, terminated)

	terminated, err = h.launcher.Terminate(ctx, "no-such-run")
	require.NoError(t, err)
	assert.False(t, terminated)

	assert.Empty(t, h.executions.cancels)
}

func TestTerminate_RemoteFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.executions.cancelErr = errors.New("unavailable")
	ctx := context.Background()
	run := h.launch(t, "")

	terminated, err := h.launcher.Terminate(ctx, run.ID)
	assert.False(t, terminated)
	assert.True(t, qerr.IsCode(err, qerr.CodeRemote))

	events, err := h.instance.Events(ctx, run.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, runs.EventEngine, last.Type)
	assert.Contains(t, last.Message, "unavailable")
}

func TestCheckRunWorkerHealth(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	run := h.launch(t, "")

	result := h.launcher.CheckRunWorkerHealth(ctx, run)
	assert.Equal(t, WorkerStatusRunning, result.Status)
	assert.Equal(t, []string{testExecutionName}, h.executions.gets)

	_, err := h.instance.TerminateRun(ctx, run.ID)
	require.NoError(t, err)

	run, err = h.instance.GetRun(ctx, run.ID)
	require.NoError(t, err)
	result = h.launcher.CheckRunWorkerHealth(ctx, run)
	assert.Equal(t, WorkerStatusFailed, result.Status)
	assert.Equal(t, []string{testExecutionName, testExecutionName}, h.executions.gets)
}

func TestCheckRunWorkerHealth_Unknown(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	never := h.createRun(t, "")
	assert.Equal(t, WorkerStatusUnknown, h.launcher.CheckRunWorkerHealth(ctx, never).Status)
	assert.Empty(t, h.executions.gets)

	run := h.launch(t, "")
	h.executions.getErr = errors.New("deadline exceeded")
	result := h.launcher.CheckRunWorkerHealth(ctx, run)
	assert.Equal(t, WorkerStatusUnknown, result.Status)
	assert.Contains(t, result.Message, "deadline exceeded")
	assert.Len(t, h.executions.gets, 1)

	result = h.launcher.CheckRunWorkerHealth(ctx, nil)
	assert.Equal(t, WorkerStatusUnknown, result.Status)
	assert.Len(t, h.executions.gets, 1)
}

func TestExecutionHealth(t *testing.T) {
	done := timestamppb.Now()
	tests := []struct {
		name      string
		execution *runpb.Execution
		want      WorkerStatus
	}{
		{"running", &runpb.Execution{TaskCount: 2, RunningCount: 2}, WorkerStatusRunning},
		{"pending", &runpb.Execution{TaskCount: 1}, WorkerStatusRunning},
		{"failed task", &runpb.Execution{TaskCount: 2, RunningCount: 1, FailedCount: 1}, WorkerStatusFailed},
		{"cancelled", &runpb.Execution{TaskCount: 1, CancelledCount: 1}, WorkerStatusFailed},
		{"completed", &runpb.Execution{TaskCount: 1, SucceededCount: 1, CompletionTime: done}, WorkerStatusSuccess},
		{"completed short", &runpb.Execution{TaskCount: 2, SucceededCount: 1, CompletionTime: done}, WorkerStatusFailed},
		{"all succeeded", &runpb.Execution{TaskCount: 3, SucceededCount: 3}, WorkerStatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExecutionHealth(tt.execution).Status)
		})
	}
}

func TestNew_RequiresClients(t *testing.T) {
	inst := runs.NewInstance(runs.NewMemoryStorage(), runs.WithLogger(qlog.Discard()))

	_, err := New(testConfig(), inst, WithLogger(qlog.Discard()))
	assert.True(t, qerr.IsCode(err, qerr.CodeConfig))

	_, err = New(&Config{}, inst, WithClients(&fakeJobs{}, &fakeExecutions{}))
	assert.True(t, qerr.IsCode(err, qerr.CodeConfig))
}
